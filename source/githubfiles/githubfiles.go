// Package githubfiles implements the `github_files` VersionSource: one
// PkgVersion per matching git tag on a GitHub repository, fetching each
// declared file individually from raw.githubusercontent.com rather than
// cloning the whole repository. Grounded on the teacher's remote.go (which
// builds GitHub API URLs by hand for its own lookups); the tag listing is a
// single request with no retry, extended with bringerr.RateLimitedError for the 403/429 the real API returns once quota
// is exhausted.
package githubfiles

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/httpfetch"
	"github.com/bringpkg/bring/pkgsource"
)

func init() {
	pkgsource.Register("github_files", newSource)
}

var schema = map[string]pkgsource.ArgSchema{
	"user_name": {Type: "string", Required: true},
	"repo_name": {Type: "string", Required: true},
	"files":     {Type: "stringlist", Required: true},
	"api_base":  {Type: "string"},
}

type source struct {
	d       pkgsource.Descriptor
	fetcher *httpfetch.Fetcher
	client  *http.Client
}

// New constructs a github_files VersionSource with explicit dependencies,
// for tests to point client/fetcher at an httptest.Server.
func New(d pkgsource.Descriptor, fetcher *httpfetch.Fetcher, client *http.Client) (pkgsource.VersionSource, error) {
	if err := pkgsource.Validate("github_files", schema, d); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &source{d: d, fetcher: fetcher, client: client}, nil
}

func newSource(d pkgsource.Descriptor) (pkgsource.VersionSource, error) {
	return New(d, nil, nil)
}

func (s *source) ArgsSchema() map[string]pkgsource.ArgSchema { return schema }

func (s *source) apiBase() string {
	if b := s.d.String("api_base"); b != "" {
		return b
	}
	return "https://api.github.com"
}

func (s *source) UniqueSourceID() string {
	return fmt.Sprintf("github_files-%s-%s", s.d.String("user_name"), s.d.String("repo_name"))
}

type ghTag struct {
	Name string `json:"name"`
}

func (s *source) RetrieveVersions() ([]*pkgsource.PkgVersion, map[string]pkgsource.ArgSchema, error) {
	user := s.d.String("user_name")
	repo := s.d.String("repo_name")
	files := s.d.StringSlice("files")
	if user == "" || repo == "" || len(files) == 0 {
		return nil, nil, &bringerr.DescriptorError{SourceType: "github_files", Field: "user_name/repo_name/files", Reason: "all required"}
	}

	url := fmt.Sprintf("%s/repos/%s/%s/tags", s.apiBase(), user, repo)
	tags, err := s.getTags(url)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	var versions []*pkgsource.PkgVersion
	for _, tag := range tags {
		steps := make([]pkgsource.StepDescriptor, 0, len(files))
		fileMap := map[string]interface{}{}
		for _, f := range files {
			rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", user, repo, tag.Name, f)
			fileMap[f] = rawURL
		}
		steps = append(steps, pkgsource.StepDescriptor{
			Type:   "download_multiple_files",
			Fields: map[string]interface{}{"files": fileMap},
		})

		idVars := map[string]string{"tag": tag.Name}
		var aliases []string
		if isLatestSemver(tag.Name, tags) {
			aliases = []string{"latest"}
		}
		versions = append(versions, pkgsource.NewPkgVersion(idVars, steps, aliases, nil, now))
	}
	return versions, schema, nil
}

func (s *source) getTags(url string) ([]ghTag, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		resetAt := parseResetHeader(resp.Header.Get("X-RateLimit-Reset"))
		return nil, &bringerr.RateLimitedError{Source: "github_files", ResetAt: resetAt, Hint: "GitHub API rate limit"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("github_files: unexpected status %d fetching tags", resp.StatusCode)
	}

	var tags []ghTag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, errors.Wrap(err, "decoding tags response")
	}
	return tags, nil
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

func isLatestSemver(tag string, all []ghTag) bool {
	v, err := semver.NewVersion(tag)
	if err != nil {
		return false
	}
	for _, t := range all {
		other, err := semver.NewVersion(t.Name)
		if err != nil {
			continue
		}
		if other.GreaterThan(v) {
			return false
		}
	}
	return true
}
