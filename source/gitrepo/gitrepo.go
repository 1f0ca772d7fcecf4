// Package gitrepo implements the `git_repo` VersionSource (spec §4.6,
// "C6"): one PkgVersion per matching tag (or, if use_commits_as_versions is
// set, per branch head) of a remote repository, grounded on the teacher's
// vcs_source.go gitSource, which resolves a constraint against a
// Masterminds/vcs-backed repo the same way.
package gitrepo

import (
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/cachepath"
	"github.com/bringpkg/bring/gitmirror"
	"github.com/bringpkg/bring/pkgsource"
)

func init() {
	pkgsource.Register("git_repo", newSource)
}

var schema = map[string]pkgsource.ArgSchema{
	"url":                     {Type: "string", Required: true},
	"tag_filter":              {Type: "string"},
	"use_commits_as_versions": {Type: "bool", Default: false},
}

type source struct {
	d      pkgsource.Descriptor
	mirror *gitmirror.Manager
}

// New constructs a git_repo VersionSource directly, for callers (such as
// tests) that already have a gitmirror.Manager and don't want to go
// through the registry + global roots.
func New(d pkgsource.Descriptor, mirror *gitmirror.Manager) (pkgsource.VersionSource, error) {
	if err := pkgsource.Validate("git_repo", schema, d); err != nil {
		return nil, err
	}
	return &source{d: d, mirror: mirror}, nil
}

func newSource(d pkgsource.Descriptor) (pkgsource.VersionSource, error) {
	if err := pkgsource.Validate("git_repo", schema, d); err != nil {
		return nil, err
	}
	roots := cachepath.New(defaultCacheRoot())
	return &source{d: d, mirror: gitmirror.New(roots, nil)}, nil
}

// defaultCacheRoot is overridden by callers that construct gitrepo.New
// directly with their own cachepath.Roots; newSource (the registry path)
// only runs when a caller truly wants the global default, set up once by
// the CLI entrypoint via SetDefaultCacheRoot.
var cacheRootOverride string

// SetDefaultCacheRoot configures the cache root newSource uses when
// building a gitmirror.Manager for registry-dispatched descriptors.
func SetDefaultCacheRoot(root string) { cacheRootOverride = root }

func defaultCacheRoot() string {
	if cacheRootOverride != "" {
		return cacheRootOverride
	}
	return ".bring-cache"
}

func (s *source) ArgsSchema() map[string]pkgsource.ArgSchema { return schema }

func (s *source) UniqueSourceID() string {
	url := s.d.String("url")
	if url != "" {
		return "git_repo-" + cachepath.URLHash(url)
	}
	return pkgsource.DefaultSourceID("git_repo", s.d.Fields)
}

func (s *source) RetrieveVersions() ([]*pkgsource.PkgVersion, map[string]pkgsource.ArgSchema, error) {
	url := s.d.String("url")
	if url == "" {
		return nil, nil, &bringerr.DescriptorError{SourceType: "git_repo", Field: "url", Reason: "required"}
	}

	info, err := s.mirror.Info(url)
	if err != nil {
		return nil, nil, err
	}

	var filter *regexp.Regexp
	if pattern := s.d.String("tag_filter"); pattern != "" {
		filter, err = regexp.Compile(pattern)
		if err != nil {
			return nil, nil, &bringerr.DescriptorError{SourceType: "git_repo", Field: "tag_filter", Reason: err.Error()}
		}
	}

	now := time.Now()

	if s.d.Bool("use_commits_as_versions", false) {
		// Commit-based versioning exposes every branch head as a
		// version named by its branch, matching how the teacher lets
		// a Gopkg.toml constraint pin a branch directly rather than
		// only a tag.
		names := make([]string, 0, len(info.Branches))
		for name := range info.Branches {
			names = append(names, name)
		}
		sort.Strings(names)

		var versions []*pkgsource.PkgVersion
		for _, branch := range names {
			var aliases []string
			if branch == "main" || branch == "master" {
				aliases = []string{"latest"}
			}
			versions = append(versions, buildVersion(url, branch, now, aliases))
		}
		return versions, schema, nil
	}

	// info.Tags is already ordered newest-commit-first (gitmirror.Info);
	// filtering preserves that order, so the first surviving entry is the
	// one `latest` should alias (spec §4.6: "latest aliases the newest
	// tag").
	matching := make([]gitmirror.TagRef, 0, len(info.Tags))
	for _, t := range info.Tags {
		if filter != nil && !filter.MatchString(t.Name) {
			continue
		}
		matching = append(matching, t)
	}

	if len(matching) == 0 {
		// "latest aliases the newest tag, or master if no tags" (spec
		// §4.6): fall back to a single master/main version so `latest`
		// still resolves to something for a tagless repo.
		for _, branch := range []string{"master", "main"} {
			if _, ok := info.Branches[branch]; ok {
				return []*pkgsource.PkgVersion{buildVersion(url, branch, now, []string{"latest"})}, schema, nil
			}
		}
		return nil, nil, errors.Errorf("git_repo %s: no tags (matching tag_filter, if set) and no master/main branch found", url)
	}

	versions := make([]*pkgsource.PkgVersion, 0, len(matching))
	for i, t := range matching {
		var aliases []string
		if i == 0 {
			aliases = []string{"latest"}
		}
		versions = append(versions, buildVersion(url, t.Name, now, aliases))
	}
	return versions, schema, nil
}

func buildVersion(url, ref string, ts time.Time, aliases []string) *pkgsource.PkgVersion {
	idVars := map[string]string{"version": ref}
	steps := []pkgsource.StepDescriptor{{
		Type: "git_clone",
		Fields: map[string]interface{}{
			"url": url,
			"ref": "${version}",
		},
	}}
	return pkgsource.NewPkgVersion(idVars, steps, aliases, nil, ts)
}
