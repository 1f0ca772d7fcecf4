package cachepath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLHashStable(t *testing.T) {
	a := URLHash("https://example.com/x")
	b := URLHash("https://example.com/x")
	c := URLHash("https://example.com/y")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAtomicRenamePublishesTemp(t *testing.T) {
	root := t.TempDir()
	final := filepath.Join(root, "dest", "thing")
	tmp := TempSibling(final)
	require.NoError(t, os.MkdirAll(tmp, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "f"), []byte("x"), 0o644))

	require.NoError(t, AtomicRename(tmp, final))

	data, err := os.ReadFile(filepath.Join(final, "f"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestAtomicRenameLoserDiscardsTemp(t *testing.T) {
	root := t.TempDir()
	final := filepath.Join(root, "dest", "thing")
	require.NoError(t, os.MkdirAll(final, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(final, "winner"), []byte("first"), 0o644))

	tmp := TempSibling(final)
	require.NoError(t, os.MkdirAll(tmp, 0o755))

	require.NoError(t, AtomicRename(tmp, final))

	_, err := os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "loser's temp dir should be removed")

	data, err := os.ReadFile(filepath.Join(final, "winner"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data), "winner's content must survive untouched")
}

func TestRootsLayout(t *testing.T) {
	r := New("/cache")
	assert.Equal(t, "/cache/downloads", r.Downloads())
	assert.Equal(t, "/cache/git_checkouts", r.GitCheckouts())
	assert.Equal(t, "/cache/pkg_versions/git_repo/abc123/data", r.PkgVersionData("git_repo", "abc123"))
	assert.Equal(t, "/cache/packages/git_repo/abc123/def456/package_data", r.PackageData("git_repo", "abc123", "def456"))
}
