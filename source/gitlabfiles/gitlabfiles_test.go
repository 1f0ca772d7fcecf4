package gitlabfiles

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/pkgsource"
)

func TestRetrieveVersionsOnePerTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name":"v1.0.0"},{"name":"v2.0.0"}]`)
	}))
	defer srv.Close()

	d := pkgsource.Descriptor{Type: "gitlab_files", Fields: map[string]interface{}{
		"project": "group/proj", "files": []interface{}{"go.mod"}, "api_base": srv.URL,
	}}
	src, err := New(d, srv.Client())
	require.NoError(t, err)

	versions, _, err := src.RetrieveVersions()
	require.NoError(t, err)
	require.Len(t, versions, 2)

	for _, v := range versions {
		fields := v.Steps[0].Fields
		files := fields["files"].(map[string]interface{})
		assert.Contains(t, files["go.mod"], "repository/files/go.mod/raw?ref=")
	}
}

func TestRetrieveVersionsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Reset", "1700000000")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := pkgsource.Descriptor{Type: "gitlab_files", Fields: map[string]interface{}{
		"project": "group/proj", "files": []interface{}{"go.mod"}, "api_base": srv.URL,
	}}
	src, err := New(d, srv.Client())
	require.NoError(t, err)

	_, _, err = src.RetrieveVersions()
	require.Error(t, err)
	_, ok := err.(*bringerr.RateLimitedError)
	assert.True(t, ok)
}

func TestUniqueSourceIDIncludesProject(t *testing.T) {
	d := pkgsource.Descriptor{Type: "gitlab_files", Fields: map[string]interface{}{
		"project": "group/proj", "files": []interface{}{"go.mod"},
	}}
	src, err := New(d, nil)
	require.NoError(t, err)
	assert.Equal(t, "gitlab_files-group/proj", src.UniqueSourceID())
}
