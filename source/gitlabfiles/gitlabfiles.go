// Package gitlabfiles implements the `gitlab_files` VersionSource, the
// GitLab analogue of source/githubfiles: one PkgVersion per tag, fetched via
// GitLab's raw-file API instead of cloning. Grounded on the same
// remote.go/source_manager.go patterns githubfiles generalizes, adjusted for
// GitLab's project-id-based REST paths and its `RateLimit-Reset` header.
package gitlabfiles

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/pkgsource"
)

func init() {
	pkgsource.Register("gitlab_files", newSource)
}

var schema = map[string]pkgsource.ArgSchema{
	"project": {Type: "string", Required: true},
	"files":   {Type: "stringlist", Required: true},
	"api_base": {Type: "string"},
}

type source struct {
	d      pkgsource.Descriptor
	client *http.Client
}

// New constructs a gitlab_files VersionSource with an explicit client, for
// tests.
func New(d pkgsource.Descriptor, client *http.Client) (pkgsource.VersionSource, error) {
	if err := pkgsource.Validate("gitlab_files", schema, d); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &source{d: d, client: client}, nil
}

func newSource(d pkgsource.Descriptor) (pkgsource.VersionSource, error) { return New(d, nil) }

func (s *source) ArgsSchema() map[string]pkgsource.ArgSchema { return schema }

func (s *source) apiBase() string {
	if b := s.d.String("api_base"); b != "" {
		return b
	}
	return "https://gitlab.com/api/v4"
}

func (s *source) UniqueSourceID() string {
	return "gitlab_files-" + s.d.String("project")
}

type glTag struct {
	Name string `json:"name"`
}

func (s *source) RetrieveVersions() ([]*pkgsource.PkgVersion, map[string]pkgsource.ArgSchema, error) {
	project := s.d.String("project")
	files := s.d.StringSlice("files")
	if project == "" || len(files) == 0 {
		return nil, nil, &bringerr.DescriptorError{SourceType: "gitlab_files", Field: "project/files", Reason: "both required"}
	}

	encodedProject := url.QueryEscape(project)
	tagsURL := fmt.Sprintf("%s/projects/%s/repository/tags", s.apiBase(), encodedProject)

	resp, err := s.client.Get(tagsURL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching %s", tagsURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		resetAt := parseResetHeader(resp.Header.Get("RateLimit-Reset"))
		return nil, nil, &bringerr.RateLimitedError{Source: "gitlab_files", ResetAt: resetAt, Hint: "GitLab API rate limit"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Errorf("gitlab_files: unexpected status %d fetching tags", resp.StatusCode)
	}

	var tags []glTag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, nil, errors.Wrap(err, "decoding tags response")
	}

	now := time.Now()
	var versions []*pkgsource.PkgVersion
	for _, tag := range tags {
		fileMap := map[string]interface{}{}
		for _, f := range files {
			rawURL := fmt.Sprintf("%s/projects/%s/repository/files/%s/raw?ref=%s",
				s.apiBase(), encodedProject, url.QueryEscape(f), url.QueryEscape(tag.Name))
			fileMap[f] = rawURL
		}
		steps := []pkgsource.StepDescriptor{{
			Type:   "download_multiple_files",
			Fields: map[string]interface{}{"files": fileMap},
		}}
		idVars := map[string]string{"tag": tag.Name}
		versions = append(versions, pkgsource.NewPkgVersion(idVars, steps, nil, nil, now))
	}
	return versions, schema, nil
}

func parseResetHeader(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
