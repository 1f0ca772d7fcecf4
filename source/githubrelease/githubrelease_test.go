package githubrelease

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bringpkg/bring/pkgsource"
)

const releasesBody = `[
	{"tag_name":"v2.0.0","prerelease":false,"assets":[
		{"name":"tool-v2.0.0-linux-amd64.tar.gz","browser_download_url":"https://dl.example.com/v2.0.0/linux.tar.gz"},
		{"name":"tool-v2.0.0.sha256","browser_download_url":"https://dl.example.com/v2.0.0/linux.sha256"}
	]},
	{"tag_name":"v1.9.0-rc1","prerelease":true,"assets":[
		{"name":"tool-v1.9.0-rc1-linux-amd64.tar.gz","browser_download_url":"https://dl.example.com/rc1/linux.tar.gz"}
	]},
	{"tag_name":"v1.0.0","prerelease":false,"assets":[
		{"name":"tool-v1.0.0-linux-amd64.tar.gz","browser_download_url":"https://dl.example.com/v1.0.0/linux.tar.gz"}
	]}
]`

func newTestSource(t *testing.T, srvURL string, includePre bool) pkgsource.VersionSource {
	t.Helper()
	d := pkgsource.Descriptor{Type: "github_release", Fields: map[string]interface{}{
		"user_name": "octo", "repo_name": "cat",
		"asset_pattern":       "linux-amd64\\.tar\\.gz$",
		"api_base":            srvURL,
		"include_pre_release": includePre,
	}}
	src, err := New(d, http.DefaultClient, nil)
	require.NoError(t, err)
	return src
}

func TestRetrieveVersionsSkipsPrereleaseByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, releasesBody)
	}))
	defer srv.Close()

	src := newTestSource(t, srv.URL, false)
	versions, _, err := src.RetrieveVersions()
	require.NoError(t, err)
	require.Len(t, versions, 2)

	assert.True(t, versions[0].HasAlias("latest"))
	assert.Equal(t, "https://dl.example.com/v2.0.0/linux.tar.gz", versions[0].Steps[0].Fields["url"])
	assert.Equal(t, "https://dl.example.com/v1.0.0/linux.tar.gz", versions[1].Steps[0].Fields["url"])
}

func TestRetrieveVersionsIncludesPrereleaseWhenRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, releasesBody)
	}))
	defer srv.Close()

	src := newTestSource(t, srv.URL, true)
	versions, _, err := src.RetrieveVersions()
	require.NoError(t, err)
	require.Len(t, versions, 3)
}

func TestNewRejectsInvalidAssetPattern(t *testing.T) {
	d := pkgsource.Descriptor{Type: "github_release", Fields: map[string]interface{}{
		"user_name": "octo", "repo_name": "cat", "asset_pattern": "(unclosed",
	}}
	_, err := New(d, nil, nil)
	assert.Error(t, err)
}
