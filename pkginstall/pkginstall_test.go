package pkginstall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bringpkg/bring/cachepath"
	"github.com/bringpkg/bring/httpfetch"
	"github.com/bringpkg/bring/metacache"
	"github.com/bringpkg/bring/pipeline"
	"github.com/bringpkg/bring/pkgsource"
	_ "github.com/bringpkg/bring/source/templateurl"
	"github.com/bringpkg/bring/targetmerge"
)

func newTestInstaller(t *testing.T, srv *httptest.Server) (*Installer, cachepath.Roots) {
	t.Helper()
	roots := cachepath.New(t.TempDir())
	fetcher := httpfetch.New(roots, httpfetch.WithClient(srv.Client()))
	p := pipeline.New(roots, nil, fetcher, nil)
	return New(roots, p, nil), roots
}

func newTestVersion(url string) *pkgsource.PkgVersion {
	steps := []pkgsource.StepDescriptor{
		{Type: "download", Fields: map[string]interface{}{"url": url, "file": "payload.txt"}},
	}
	return pkgsource.NewPkgVersion(map[string]string{"tag": "v1.0.0"}, steps, nil, nil, time.Now())
}

func TestEnsureVersionMaterializedPublishesOnce(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	in, _ := newTestInstaller(t, srv)
	v := newTestVersion(srv.URL)

	dataDir1, err := in.EnsureVersionMaterialized(context.Background(), "git_repo", v)
	require.NoError(t, err)
	dataDir2, err := in.EnsureVersionMaterialized(context.Background(), "git_repo", v)
	require.NoError(t, err)

	assert.Equal(t, dataDir1, dataDir2)
	assert.Equal(t, 1, hits, "second materialize call should hit the version cache, not the network")

	data, err := os.ReadFile(filepath.Join(dataDir1, "payload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestInstallAppliesTransformAndContentSpec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	in, _ := newTestInstaller(t, srv)
	v := newTestVersion(srv.URL)

	pkg := &Package{
		SourceType: "git_repo",
		Version:    v,
		Transform: []pkgsource.StepDescriptor{
			{Type: "rename", Fields: map[string]interface{}{
				"mapping": map[string]interface{}{"payload.txt": "renamed.txt"},
			}},
		},
		Content: pkgsource.ContentSpec{
			{From: "renamed.txt", Path: "out/renamed.txt"},
		},
	}

	dir, err := in.Install(context.Background(), pkg)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out", "renamed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestInstallIsCachedByTransformHash(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	in, _ := newTestInstaller(t, srv)
	v := newTestVersion(srv.URL)
	pkg := &Package{SourceType: "git_repo", Version: v}

	dir1, err := in.Install(context.Background(), pkg)
	require.NoError(t, err)
	dir2, err := in.Install(context.Background(), pkg)
	require.NoError(t, err)

	assert.Equal(t, dir1, dir2)
	assert.Equal(t, 1, hits)
}

func TestInstallFailsOnMissingContentSpecSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	in, _ := newTestInstaller(t, srv)
	v := newTestVersion(srv.URL)
	pkg := &Package{
		SourceType: "git_repo",
		Version:    v,
		Content:    pkgsource.ContentSpec{{From: "does-not-exist.txt", Path: "out.txt"}},
	}

	_, err := in.Install(context.Background(), pkg)
	assert.Error(t, err)
}

// TestResolveRunsTheFullInstallChain exercises install(**input_values)
// (spec §4.8) end to end: pkgsource.Build resolves the descriptor into a
// VersionSource, metacache.GetVersions fetches its VersionSet,
// FindMatchingVersion picks the version named by inputValues, Install
// materializes and publishes it, and targetmerge.Merge lands the result in
// the target folder. Re-running it must be a no-op against the network and
// idempotent against the target folder (spec's install idempotency law).
func TestResolveRunsTheFullInstallChain(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("payload-v1.0.0"))
	}))
	defer srv.Close()

	in, roots := newTestInstaller(t, srv)
	cache, err := metacache.Open(roots, time.Hour, nil)
	require.NoError(t, err)
	defer cache.Close()

	d := pkgsource.Descriptor{Type: "template_url", Fields: map[string]interface{}{
		"url_template": srv.URL,
		"versions":     []string{"v1.0.0"},
		"file":         "payload.txt",
	}}
	targetDir := filepath.Join(t.TempDir(), "target")

	dir1, err := in.Resolve(context.Background(), cache, d, map[string]string{"version": "v1.0.0"}, nil, nil, targetDir, targetmerge.StrategyDefault)
	require.NoError(t, err)
	assert.Equal(t, targetDir, dir1)

	data, err := os.ReadFile(filepath.Join(targetDir, "payload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload-v1.0.0", string(data))

	dir2, err := in.Resolve(context.Background(), cache, d, map[string]string{"version": "v1.0.0"}, nil, nil, targetDir, targetmerge.StrategyDefault)
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)
	assert.Equal(t, 1, hits, "re-resolving the same version must not hit the network again")
}
