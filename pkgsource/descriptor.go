// Package pkgsource holds bring's data model (spec §3): the PkgSource
// descriptor, PkgVersion, ContentSpec, and the VersionSource plugin contract
// that source/* packages implement (spec §4.6/C6).
//
// Per Design Note §9, plugin dispatch is a closed set of variant tags plus an
// interface, registered at init time — not reflection-based lookup by name
// at call sites. Concrete plugins call Register from their own init().
package pkgsource

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/internal/deephash"
)

// Descriptor is the immutable mapping describing where and how to fetch a
// package (spec §3, "PkgSource descriptor"). Type is the mandatory
// discriminator selecting the VersionSource plugin; Fields holds the
// type-specific keys (url, user_name, repo_name, files, template_values,
// tag_filter, use_commits_as_versions, ...), validated against the plugin's
// ArgsSchema before use.
type Descriptor struct {
	Type   string
	Fields map[string]interface{}
}

// String returns a field as a string, or "" if absent or not a string.
func (d Descriptor) String(key string) string {
	v, ok := d.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Bool returns a field as a bool, defaulting to def if absent.
func (d Descriptor) Bool(key string, def bool) bool {
	v, ok := d.Fields[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// StringSlice returns a field as a []string. Accepts either a []string or a
// []interface{} of strings, since descriptors may arrive from either a TOML
// or a YAML decode.
func (d Descriptor) StringSlice(key string) []string {
	v, ok := d.Fields[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// StringMap returns a field as a map[string]string.
func (d Descriptor) StringMap(key string) map[string]string {
	v, ok := d.Fields[key]
	if !ok {
		return nil
	}
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]string:
		return t
	case map[string]interface{}:
		for k, e := range t {
			if s, ok := e.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

// ArgSchema describes one accepted descriptor field's constraints, used both
// to validate Descriptor.Fields and to describe the caller-facing arg schema
// a VersionSource publishes alongside its version set (spec §3,
// "VersionSet").
type ArgSchema struct {
	Type     string      // "string", "bool", "stringlist", "stringmap"
	Required bool
	Default  interface{}
}

// Validate checks d.Fields against schema, returning a *bringerr.DescriptorError
// on the first violation.
func Validate(sourceType string, schema map[string]ArgSchema, d Descriptor) error {
	for name, s := range schema {
		v, present := d.Fields[name]
		if !present {
			if s.Required {
				return &bringerr.DescriptorError{SourceType: sourceType, Field: name, Reason: "required field missing"}
			}
			continue
		}
		if !typeMatches(s.Type, v) {
			return &bringerr.DescriptorError{
				SourceType: sourceType,
				Field:      name,
				Reason:     fmt.Sprintf("expected %s, got %T", s.Type, v),
			}
		}
	}
	return nil
}

func typeMatches(want string, v interface{}) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	case "stringlist":
		switch v.(type) {
		case []string, []interface{}:
			return true
		}
		return false
	case "stringmap":
		switch v.(type) {
		case map[string]string, map[string]interface{}:
			return true
		}
		return false
	default:
		return true
	}
}

// VersionSource is the plugin contract concrete source/* packages implement
// (spec §4.6). get_versions (the non-overridable cache-then-fetch wrapper)
// is not on the interface: it lives in package metacache as
// Cache.GetVersions, so plugins cannot override it.
type VersionSource interface {
	// ArgsSchema returns the accepted descriptor fields and their
	// constraints.
	ArgsSchema() map[string]ArgSchema

	// UniqueSourceID returns a stable string identifying this exact
	// source, used as the metadata-cache key. The default derivation
	// (DefaultSourceID) is a deep hash of validated inputs; plugins may
	// override with something more legible (a sanitized repo URL).
	UniqueSourceID() string

	// RetrieveVersions consults the network (if needed) and returns the
	// full version set, idempotently.
	RetrieveVersions() ([]*PkgVersion, map[string]ArgSchema, error)
}

// DefaultSourceID derives a stable id for a descriptor from a deep hash of
// its validated fields, for plugins that don't have something more legible
// to offer (spec §4.6).
func DefaultSourceID(sourceType string, fields map[string]interface{}) string {
	return sourceType + "-" + shortHash(fields)
}

// PkgVersion is a concrete, hash-identified recipe for fetching one specific
// version (spec §3).
// PkgVersion.Aliases lists the alias names (e.g. "latest", "stable",
// "pre-release") this exact version currently satisfies. Resolving an alias
// token in caller input into a concrete PkgVersion is done by the version
// set that owns the full list (see VersionSet.ResolveAlias), not by any
// single PkgVersion in isolation — a version only knows what it claims, not
// whether some other version claims the same alias too.
type PkgVersion struct {
	IDVars            map[string]string      `json:"vars"`
	Steps             []StepDescriptor       `json:"steps"`
	Aliases           []string               `json:"aliases,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	MetadataTimestamp time.Time              `json:"metadata_timestamp"`
	id                string
}

// StepDescriptor is one entry in a PkgVersion's step list: a `type`
// discriminator plus step-specific keys, consumed by the step package (C4).
type StepDescriptor struct {
	Type   string
	Fields map[string]interface{}
}

// NewPkgVersion builds a PkgVersion, substituting `${name}` placeholders in
// step field values from idVars (spec §3: "Template placeholders ... are
// substituted at construction time ... unresolved placeholders remain
// literal") and computing its id as a deep-structural hash of the
// substituted steps.
func NewPkgVersion(idVars map[string]string, rawSteps []StepDescriptor, aliases []string, metadata map[string]interface{}, metadataTimestamp time.Time) *PkgVersion {
	steps := make([]StepDescriptor, len(rawSteps))
	for i, s := range rawSteps {
		steps[i] = StepDescriptor{
			Type:   s.Type,
			Fields: substituteMap(s.Fields, idVars),
		}
	}
	pv := &PkgVersion{
		IDVars:            idVars,
		Steps:             steps,
		Aliases:           aliases,
		Metadata:          metadata,
		MetadataTimestamp: metadataTimestamp,
	}
	pv.id = computeVersionID(steps)
	return pv
}

// ID returns the PkgVersion's stable id: a deep-structural hash over Steps
// (spec §3 invariant: "id is a pure function of steps").
func (pv *PkgVersion) ID() string {
	if pv.id == "" {
		pv.id = computeVersionID(pv.Steps)
	}
	return pv.id
}

func computeVersionID(steps []StepDescriptor) string {
	return shortHash(stepsToValue(steps))
}

func stepsToValue(steps []StepDescriptor) []interface{} {
	out := make([]interface{}, len(steps))
	for i, s := range steps {
		m := map[string]interface{}{"type": s.Type}
		for k, v := range s.Fields {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

// ToMap renders the PkgVersion into the plain map[string]interface{} shape
// used both by version.json (spec §6) and by the metadata cache (spec §4.7).
func (pv *PkgVersion) ToMap() map[string]interface{} {
	steps := make([]interface{}, len(pv.Steps))
	for i, s := range pv.Steps {
		m := map[string]interface{}{"type": s.Type}
		for k, v := range s.Fields {
			m[k] = v
		}
		steps[i] = m
	}
	var vars map[string]interface{}
	if pv.IDVars != nil {
		vars = make(map[string]interface{}, len(pv.IDVars))
		for k, v := range pv.IDVars {
			vars[k] = v
		}
	}
	var aliases []interface{}
	for _, a := range pv.Aliases {
		aliases = append(aliases, a)
	}
	return map[string]interface{}{
		"id":                 pv.ID(),
		"vars":               vars,
		"steps":              steps,
		"aliases":            aliases,
		"metadata":           pv.Metadata,
		"metadata_timestamp": pv.MetadataTimestamp.UTC().Format(time.RFC3339),
	}
}

// FromMap reconstructs a PkgVersion from the shape ToMap produces. Spec §8
// property 1 requires that re-constructing a PkgVersion from its own ToMap
// output yields a structurally equal record with the same id; this function
// is that round trip's other half.
func FromMap(m map[string]interface{}) (*PkgVersion, error) {
	vars := toStringMap(m["vars"])
	aliases := toStringSlice(m["aliases"])
	var metadata map[string]interface{}
	if md, ok := m["metadata"].(map[string]interface{}); ok {
		metadata = md
	}
	var ts time.Time
	if s, ok := m["metadata_timestamp"].(string); ok && s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.Wrap(err, "parsing metadata_timestamp")
		}
		ts = t
	}

	rawSteps, _ := m["steps"].([]interface{})
	steps := make([]StepDescriptor, 0, len(rawSteps))
	for _, rs := range rawSteps {
		sm, ok := rs.(map[string]interface{})
		if !ok {
			continue
		}
		typ, _ := sm["type"].(string)
		fields := map[string]interface{}{}
		for k, v := range sm {
			if k == "type" {
				continue
			}
			fields[k] = v
		}
		steps = append(steps, StepDescriptor{Type: typ, Fields: fields})
	}

	pv := &PkgVersion{
		IDVars:            vars,
		Steps:             steps,
		Aliases:           aliases,
		Metadata:          metadata,
		MetadataTimestamp: ts,
	}
	pv.id = computeVersionID(steps)
	if id, ok := m["id"].(string); ok && id != "" && id != pv.id {
		return nil, errors.Errorf("PkgVersion id mismatch: stored %q, recomputed %q", id, pv.id)
	}
	return pv, nil
}

func toStringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toStringSlice(v interface{}) []string {
	s, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, e := range s {
		if str, ok := e.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// HasAlias reports whether pv claims alias.
func (pv *PkgVersion) HasAlias(alias string) bool {
	for _, a := range pv.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// MatchScore counts how many of input's entries equal the corresponding
// entry in pv.IDVars. Callers resolve alias tokens (e.g. "latest") in input
// against a VersionSet before calling MatchScore; a single PkgVersion never
// resolves aliases itself. Used by find_matching_version (spec §4.6).
func (pv *PkgVersion) MatchScore(input map[string]string) int {
	score := 0
	for k, v := range input {
		if pv.IDVars[k] == v {
			score++
		}
	}
	return score
}

// substituteMap applies substitute to every string value in fields,
// recursively through nested maps/slices, leaving other types untouched.
func substituteMap(fields map[string]interface{}, vars map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = substituteValue(v, vars)
	}
	return out
}

func substituteValue(v interface{}, vars map[string]string) interface{} {
	switch t := v.(type) {
	case string:
		return substitute(t, vars)
	case map[string]interface{}:
		return substituteMap(t, vars)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = substituteValue(e, vars)
		}
		return out
	default:
		return v
	}
}

// substitute replaces every `${name}` occurrence in s with vars[name],
// leaving unresolved placeholders literal (spec §3). It is idempotent: a
// substituted string contains no more `${...}` tokens that vars can resolve,
// so a second pass is a no-op (spec §8 round-trip law).
func substitute(s string, vars map[string]string) string {
	var out []byte
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := indexByte(s[i+2:], '}')
			if end >= 0 {
				name := s[i+2 : i+2+end]
				if val, ok := vars[name]; ok {
					out = append(out, val...)
					i += 2 + end + 1
					continue
				}
			}
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func shortHash(v interface{}) string {
	return deephash.Sum(v)
}

// ContentSpecItem is one entry of a ContentSpec (spec §3).
type ContentSpecItem struct {
	From string
	Path string
	Mode string // octal permission bits as a string, e.g. "755"; "" means unspecified.
}

// ContentSpec is the declarative post-transform file policy (spec §3).
type ContentSpec []ContentSpecItem

// NormalizeContentSpec accepts a bare filename, a single {from: path} map, or
// a list of either, and returns the canonical ContentSpec (spec §3, §8 round
// trip law). It returns an error if any two items share a target Path.
func NormalizeContentSpec(raw interface{}) (ContentSpec, error) {
	var items []ContentSpecItem
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []ContentSpecItem{{From: t, Path: t}}
	case map[string]interface{}:
		item, err := contentItemFromMap(t)
		if err != nil {
			return nil, err
		}
		items = []ContentSpecItem{item}
	case []interface{}:
		for _, e := range t {
			switch et := e.(type) {
			case string:
				items = append(items, ContentSpecItem{From: et, Path: et})
			case map[string]interface{}:
				item, err := contentItemFromMap(et)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			default:
				return nil, errors.Errorf("content spec: unsupported item type %T", e)
			}
		}
	default:
		return nil, errors.Errorf("content spec: unsupported shape %T", raw)
	}

	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.Path] {
			return nil, errors.Errorf("content spec: duplicate target path %q", it.Path)
		}
		seen[it.Path] = true
	}
	return items, nil
}

func contentItemFromMap(m map[string]interface{}) (ContentSpecItem, error) {
	from, _ := m["from"].(string)
	if from == "" {
		return ContentSpecItem{}, errors.New("content spec item missing \"from\"")
	}
	path, _ := m["path"].(string)
	if path == "" {
		path = from
	}
	var mode string
	switch mv := m["mode"].(type) {
	case string:
		mode = mv
	case int:
		mode = fmt.Sprintf("%o", mv)
	case int64:
		mode = fmt.Sprintf("%o", mv)
	}
	return ContentSpecItem{From: from, Path: path, Mode: mode}, nil
}

// Paths returns the sorted set of target paths declared by spec, the set
// every materialized output path of the spec belongs to.
func (cs ContentSpec) Paths() []string {
	out := make([]string, len(cs))
	for i, it := range cs {
		out[i] = it.Path
	}
	sort.Strings(out)
	return out
}
