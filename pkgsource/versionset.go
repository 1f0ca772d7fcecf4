package pkgsource

import (
	"sort"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/log"
)

// VersionSet is the full, ordered result of retrieving a source's versions
// (spec §3 "VersionSet"), plus the arg schema the source published alongside
// them. It is the unit both RetrieveVersions and the metadata cache (C7)
// deal in.
type VersionSet struct {
	SourceID  string
	Versions  []*PkgVersion
	ArgSchema map[string]ArgSchema

	aliasIndex map[string]*PkgVersion
}

// NewVersionSet builds a VersionSet and its alias index. Per the Open
// Question decision recorded in DESIGN.md, when two versions claim the same
// alias the first one encountered (in versions' existing order) wins and a
// warning is logged; this mirrors how the teacher's lock solver keeps its
// first-seen project root in a map-building pass rather than erroring.
func NewVersionSet(sourceID string, versions []*PkgVersion, schema map[string]ArgSchema, logger *log.Logger) *VersionSet {
	if logger == nil {
		logger = log.Std
	}
	idx := make(map[string]*PkgVersion)
	for _, v := range versions {
		for _, alias := range v.Aliases {
			if existing, ok := idx[alias]; ok && existing != v {
				logger.Warnf("source %s: alias %q claimed by more than one version; keeping the first one seen", sourceID, alias)
				continue
			}
			idx[alias] = v
		}
	}
	return &VersionSet{SourceID: sourceID, Versions: versions, ArgSchema: schema, aliasIndex: idx}
}

// ResolveAlias returns the version claiming alias, if any.
func (vs *VersionSet) ResolveAlias(alias string) (*PkgVersion, bool) {
	v, ok := vs.aliasIndex[alias]
	return v, ok
}

// FindMatchingVersion implements find_matching_version (spec §4.6): resolve
// any id_vars entry that names a known alias into its concrete value, then
// return the single PkgVersion whose id_vars is the best (highest-scoring)
// match. Ties are an AmbiguousVersionError; no match at all is a
// NoMatchingVersionError.
func (vs *VersionSet) FindMatchingVersion(input map[string]string) (*PkgVersion, error) {
	resolved := make(map[string]string, len(input))
	for k, v := range input {
		if alias, ok := vs.ResolveAlias(v); ok {
			resolved[k] = alias.IDVars[k]
			continue
		}
		resolved[k] = v
	}

	type scored struct {
		v     *PkgVersion
		score int
	}
	var best []scored
	bestScore := -1
	for _, v := range vs.Versions {
		s := v.MatchScore(resolved)
		if s < len(resolved) {
			// Not all requested dimensions matched; not a candidate.
			continue
		}
		if s > bestScore {
			bestScore = s
			best = []scored{{v, s}}
		} else if s == bestScore {
			best = append(best, scored{v, s})
		}
	}

	if len(best) == 0 {
		return nil, &bringerr.NoMatchingVersionError{SourceID: vs.SourceID, Input: input}
	}
	if len(best) > 1 {
		return nil, &bringerr.AmbiguousVersionError{SourceID: vs.SourceID, Input: input, Matches: len(best)}
	}
	return best[0].v, nil
}

// SortedByID returns a copy of vs.Versions sorted by id, for deterministic
// iteration.
func (vs *VersionSet) SortedByID() []*PkgVersion {
	out := make([]*PkgVersion, len(vs.Versions))
	copy(out, vs.Versions)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
