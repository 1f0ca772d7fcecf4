// Package templateurl implements the `template_url` VersionSource: versions
// are supplied directly by the caller (a fixed list of id_vars combinations
// declared in the descriptor itself, spec §4.6's "statically enumerable"
// source kind), and each resolves to a single download whose URL is built
// by substituting those id_vars into a template string. Grounded on the
// teacher's vcs_source.go handling of a pinned "version" constraint — no
// network round trip is needed to know what versions exist.
package templateurl

import (
	"time"

	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/pkgsource"
)

func init() {
	pkgsource.Register("template_url", newSource)
}

var schema = map[string]pkgsource.ArgSchema{
	"url_template": {Type: "string", Required: true},
	"versions":     {Type: "stringlist", Required: true},
	"var_name":     {Type: "string", Default: "version"},
	"file":         {Type: "string"},
}

type source struct {
	d pkgsource.Descriptor
}

func New(d pkgsource.Descriptor) (pkgsource.VersionSource, error) {
	if err := pkgsource.Validate("template_url", schema, d); err != nil {
		return nil, err
	}
	return &source{d: d}, nil
}

func newSource(d pkgsource.Descriptor) (pkgsource.VersionSource, error) { return New(d) }

func (s *source) ArgsSchema() map[string]pkgsource.ArgSchema { return schema }

func (s *source) UniqueSourceID() string {
	return pkgsource.DefaultSourceID("template_url", s.d.Fields)
}

func (s *source) RetrieveVersions() ([]*pkgsource.PkgVersion, map[string]pkgsource.ArgSchema, error) {
	template := s.d.String("url_template")
	list := s.d.StringSlice("versions")
	varName := s.d.String("var_name")
	if varName == "" {
		varName = "version"
	}
	if template == "" || len(list) == 0 {
		return nil, nil, &bringerr.DescriptorError{SourceType: "template_url", Field: "url_template/versions", Reason: "both required"}
	}

	now := time.Now()
	var versions []*pkgsource.PkgVersion
	for i, v := range list {
		if v == "" {
			return nil, nil, errors.Errorf("template_url: empty version entry at index %d", i)
		}
		idVars := map[string]string{varName: v}
		steps := []pkgsource.StepDescriptor{{
			Type: "download",
			Fields: map[string]interface{}{
				"url":  template, // substituted at PkgVersion construction time
				"file": s.d.String("file"),
			},
		}}
		var aliases []string
		if i == len(list)-1 {
			aliases = []string{"latest"}
		}
		versions = append(versions, pkgsource.NewPkgVersion(idVars, steps, aliases, nil, now))
	}
	return versions, schema, nil
}
