package step

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bringpkg/bring/bringerr"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestExtractZipRemoveRoot(t *testing.T) {
	srcDir := t.TempDir()
	writeZip(t, filepath.Join(srcDir, "pkg.zip"), map[string]string{
		"pkg-1.0/README.md": "hi",
		"pkg-1.0/bin/tool":  "bin",
	})

	out := t.TempDir()
	exec := extractStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{"remove_root": true}, map[string]string{"folder": srcDir}, out)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestExtractZipWithoutRemoveRoot(t *testing.T) {
	srcDir := t.TempDir()
	writeZip(t, filepath.Join(srcDir, "pkg.zip"), map[string]string{
		"pkg-1.0/README.md": "hi",
	})

	out := t.TempDir()
	exec := extractStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{}, map[string]string{"folder": srcDir}, out)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(out, "pkg-1.0", "README.md"))
	assert.NoError(t, err)
}

func TestExtractRemoveRootFailsOnMultipleRoots(t *testing.T) {
	srcDir := t.TempDir()
	writeZip(t, filepath.Join(srcDir, "pkg.zip"), map[string]string{
		"a/file1": "1",
		"b/file2": "2",
	})

	out := t.TempDir()
	exec := extractStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{"remove_root": true}, map[string]string{"folder": srcDir}, out)
	assert.Error(t, err)
}

// TestExtractRemoveRootFailsWhenRootIsAFile covers the spec §8 boundary
// case where an archive's sole top-level entry is a file, not a directory:
// remove_root must reject it with ArchiveStructureError rather than let
// hoistRoot crash trying to treat a file as a directory.
func TestExtractRemoveRootFailsWhenRootIsAFile(t *testing.T) {
	srcDir := t.TempDir()
	writeZip(t, filepath.Join(srcDir, "pkg.zip"), map[string]string{
		"only-file.txt": "hi",
	})

	out := t.TempDir()
	exec := extractStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{"remove_root": true}, map[string]string{"folder": srcDir}, out)
	require.Error(t, err)
	structErr, ok := err.(*bringerr.ArchiveStructureError)
	require.True(t, ok, "expected *bringerr.ArchiveStructureError, got %T: %v", err, err)
	assert.Equal(t, 1, structErr.RootEntries)
}
