// Package githubrelease implements the `github_release` VersionSource: one
// PkgVersion per GitHub release, downloading the first release asset whose
// name matches `asset_pattern` (spec §9 Open Question: first-match wins when
// more than one asset matches, logged as a warning rather than treated as
// ambiguous). Grounded on the teacher's remote.go GitHub API URL
// construction, reusing githubfiles' rate-limit handling shape.
package githubrelease

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/log"
	"github.com/bringpkg/bring/pkgsource"
)

func init() {
	pkgsource.Register("github_release", newSource)
}

var schema = map[string]pkgsource.ArgSchema{
	"user_name":     {Type: "string", Required: true},
	"repo_name":     {Type: "string", Required: true},
	"asset_pattern": {Type: "string", Required: true},
	"api_base":      {Type: "string"},
	"include_pre_release": {Type: "bool", Default: false},
}

type source struct {
	d      pkgsource.Descriptor
	client *http.Client
	logger *log.Logger
}

func New(d pkgsource.Descriptor, client *http.Client, logger *log.Logger) (pkgsource.VersionSource, error) {
	if err := pkgsource.Validate("github_release", schema, d); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.Std
	}
	if _, err := regexp.Compile(d.String("asset_pattern")); err != nil {
		return nil, &bringerr.DescriptorError{SourceType: "github_release", Field: "asset_pattern", Reason: err.Error()}
	}
	return &source{d: d, client: client, logger: logger}, nil
}

func newSource(d pkgsource.Descriptor) (pkgsource.VersionSource, error) { return New(d, nil, nil) }

func (s *source) ArgsSchema() map[string]pkgsource.ArgSchema { return schema }

func (s *source) apiBase() string {
	if b := s.d.String("api_base"); b != "" {
		return b
	}
	return "https://api.github.com"
}

func (s *source) UniqueSourceID() string {
	return fmt.Sprintf("github_release-%s-%s", s.d.String("user_name"), s.d.String("repo_name"))
}

type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type ghRelease struct {
	TagName    string    `json:"tag_name"`
	Prerelease bool      `json:"prerelease"`
	Assets     []ghAsset `json:"assets"`
}

func (s *source) RetrieveVersions() ([]*pkgsource.PkgVersion, map[string]pkgsource.ArgSchema, error) {
	user := s.d.String("user_name")
	repo := s.d.String("repo_name")
	pattern := s.d.String("asset_pattern")
	includePre := s.d.Bool("include_pre_release", false)
	if user == "" || repo == "" || pattern == "" {
		return nil, nil, &bringerr.DescriptorError{SourceType: "github_release", Field: "user_name/repo_name/asset_pattern", Reason: "all required"}
	}
	re := regexp.MustCompile(pattern)

	releasesURL := fmt.Sprintf("%s/repos/%s/%s/releases", s.apiBase(), user, repo)
	resp, err := s.client.Get(releasesURL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching %s", releasesURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		resetAt := parseResetHeader(resp.Header.Get("X-RateLimit-Reset"))
		return nil, nil, &bringerr.RateLimitedError{Source: "github_release", ResetAt: resetAt, Hint: "GitHub API rate limit"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Errorf("github_release: unexpected status %d fetching releases", resp.StatusCode)
	}

	var releases []ghRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, nil, errors.Wrap(err, "decoding releases response")
	}

	now := time.Now()
	var versions []*pkgsource.PkgVersion
	for i, rel := range releases {
		if rel.Prerelease && !includePre {
			continue
		}
		var matched *ghAsset
		matchCount := 0
		for j := range rel.Assets {
			if re.MatchString(rel.Assets[j].Name) {
				matchCount++
				if matched == nil {
					matched = &rel.Assets[j]
				}
			}
		}
		if matched == nil {
			continue
		}
		if matchCount > 1 {
			s.logger.Warnf("github_release %s/%s@%s: %d assets match %q, using the first one listed (%s)",
				user, repo, rel.TagName, matchCount, pattern, matched.Name)
		}

		idVars := map[string]string{"tag": rel.TagName}
		steps := []pkgsource.StepDescriptor{{
			Type: "download",
			Fields: map[string]interface{}{
				"url":  matched.BrowserDownloadURL,
				"file": matched.Name,
			},
		}}
		var aliases []string
		if i == 0 {
			aliases = []string{"latest"}
		}
		versions = append(versions, pkgsource.NewPkgVersion(idVars, steps, aliases, nil, now))
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
