package step

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileFilterIncludeExclude(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.txt"), "k")
	writeFile(t, filepath.Join(src, "drop.log"), "d")

	out := t.TempDir()
	exec := fileFilterStep{}
	outputs, err := exec.Run(RunContext{}, map[string]interface{}{
		"include": []interface{}{"*.txt"},
	}, map[string]string{"folder": src}, out)
	require.NoError(t, err)
	assert.Equal(t, out, outputs["folder"])

	_, err = os.Stat(filepath.Join(out, "keep.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "drop.log"))
	assert.True(t, os.IsNotExist(err))
}

// TestFileFilterExcludeHonorsDoubleStarGlob exercises the gitignore-style
// `**` recursive glob a plain filepath.Match pattern can't express, e.g.
// excluding every vendor/ subtree regardless of depth.
func TestFileFilterExcludeHonorsDoubleStarGlob(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "main.go"), "package main")
	writeFile(t, filepath.Join(src, "vendor", "dep", "lib.go"), "package dep")

	out := t.TempDir()
	exec := fileFilterStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{
		"exclude": []interface{}{"**/vendor/**"},
	}, map[string]string{"folder": src}, out)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(out, "main.go"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "vendor", "dep", "lib.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenameStepMovesFiles(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "old.txt"), "x")

	out := t.TempDir()
	exec := renameStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{
		"mapping": map[string]interface{}{"old.txt": "new.txt"},
	}, map[string]string{"folder": src}, out)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(out, "new.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "old.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestFolderContentStepErrorsOnMissingSource(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	exec := folderContentStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"from": "missing.txt"},
		},
	}, map[string]string{"folder": src}, out)
	assert.Error(t, err)
}

func TestFolderContentStepCopiesDeclaredPaths(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bin", "tool"), "binary")
	out := t.TempDir()

	exec := folderContentStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"from": "bin/tool", "path": "tool"},
		},
	}, map[string]string{"folder": src}, out)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, "tool"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestMergeFoldersLaterWins(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, filepath.Join(a, "f.txt"), "from-a")
	writeFile(t, filepath.Join(b, "f.txt"), "from-b")

	out := t.TempDir()
	exec := mergeFoldersStep{}
	_, err := exec.Run(RunContext{}, map[string]interface{}{
		"folders": []interface{}{"a", "b"},
	}, map[string]string{"a": a, "b": b}, out)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from-b", string(data))
}
