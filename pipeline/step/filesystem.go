package step

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	gitignore "github.com/monochromegane/go-gitignore"
	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
)

// fileFilterStep copies only the entries under `folder` matching `include`
// globs (or, if `include` is empty, everything) and not matching `exclude`
// globs, into the step output (spec §4.4). Both glob lists are gitignore-
// style patterns (`**`, directory anchoring, negation with `!`), matched via
// github.com/monochromegane/go-gitignore the way kpt's internal/pkg/walker.go
// honors a Kptfile's ignore list. Walking itself uses
// github.com/karrick/godirwalk the way the teacher's pkg_analysis.go walks
// package trees looking for import statements.
type fileFilterStep struct{}

func (fileFilterStep) Requires() []string { return []string{"folder"} }
func (fileFilterStep) Provides() []string { return []string{"folder"} }

func (fileFilterStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	srcDir, ok := inputs["folder"]
	if !ok {
		return nil, errors.New("file_filter: requires input \"folder\"")
	}
	includeMatcher := globMatcher(srcDir, fieldStringSlice(fields, "include"))
	excludeMatcher := globMatcher(srcDir, fieldStringSlice(fields, "exclude"))

	if err := ensureEmptyDir(outDir); err != nil {
		return nil, err
	}

	err := godirwalk.Walk(srcDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}
			if includeMatcher != nil && !includeMatcher.Match(path, false) {
				return nil
			}
			if excludeMatcher != nil && excludeMatcher.Match(path, false) {
				return nil
			}
			dest, err := joinUnderRoot(outDir, rel)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			return copyTree(path, dest)
		},
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"folder": outDir}, nil
}

// globMatcher builds a gitignore-style matcher rooted at base from patterns,
// or returns nil if patterns is empty (meaning "match everything").
func globMatcher(base string, patterns []string) gitignore.IgnoreMatcher {
	if len(patterns) == 0 {
		return nil
	}
	return gitignore.NewGitIgnoreFromReader(base, strings.NewReader(strings.Join(patterns, "\n")))
}

// renameStep moves files within `folder` according to a `from` -> `to`
// mapping (spec §4.4).
type renameStep struct{}

func (renameStep) Requires() []string { return []string{"folder"} }
func (renameStep) Provides() []string { return []string{"folder"} }

func (renameStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	srcDir, ok := inputs["folder"]
	if !ok {
		return nil, errors.New("rename: requires input \"folder\"")
	}
	mapping, _ := fields["mapping"].(map[string]interface{})

	if err := copyTree(srcDir, outDir); err != nil {
		return nil, errors.Wrap(err, "rename: staging copy")
	}

	for from, toVal := range mapping {
		to, _ := toVal.(string)
		if to == "" {
			return nil, errors.Errorf("rename: mapping entry %q has no string target", from)
		}
		fromPath, err := joinUnderRoot(outDir, from)
		if err != nil {
			return nil, err
		}
		toPath, err := joinUnderRoot(outDir, to)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(toPath), 0o755); err != nil {
			return nil, err
		}
		if err := os.Rename(fromPath, toPath); err != nil {
			return nil, errors.Wrapf(err, "renaming %s to %s", from, to)
		}
	}
	return map[string]string{"folder": outDir}, nil
}

// setModeStep applies octal permission bits to paths under `folder`
// (spec §4.4).
type setModeStep struct{}

func (setModeStep) Requires() []string { return []string{"folder"} }
func (setModeStep) Provides() []string { return []string{"folder"} }

func (setModeStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	srcDir, ok := inputs["folder"]
	if !ok {
		return nil, errors.New("set_mode: requires input \"folder\"")
	}
	modes, _ := fields["modes"].(map[string]interface{})

	if err := copyTree(srcDir, outDir); err != nil {
		return nil, errors.Wrap(err, "set_mode: staging copy")
	}

	for rel, modeVal := range modes {
		modeStr, _ := modeVal.(string)
		if modeStr == "" {
			if mi, ok := modeVal.(int); ok {
				modeStr = strconv.FormatInt(int64(mi), 8)
			}
		}
		mode, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "set_mode: invalid mode %q for %q", modeStr, rel)
		}
		path, err := joinUnderRoot(outDir, rel)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(path, os.FileMode(mode)); err != nil {
			return nil, errors.Wrapf(err, "chmod %s", rel)
		}
	}
	return map[string]string{"folder": outDir}, nil
}

// folderContentStep applies a ContentSpec-shaped selection to `folder`,
// copying each declared `from` to its `path` in the output and erroring if
// a declared `from` is absent (spec §4.4, bringerr.ContentSpecError).
type folderContentStep struct{}

func (folderContentStep) Requires() []string { return []string{"folder"} }
func (folderContentStep) Provides() []string { return []string{"folder"} }

func (folderContentStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	srcDir, ok := inputs["folder"]
	if !ok {
		return nil, errors.New("folder_content: requires input \"folder\"")
	}
	items, _ := fields["items"].([]interface{})

	if err := ensureEmptyDir(outDir); err != nil {
		return nil, err
	}

	for _, itemVal := range items {
		item, _ := itemVal.(map[string]interface{})
		from, _ := item["from"].(string)
		path, _ := item["path"].(string)
		if path == "" {
			path = from
		}
		srcPath, err := joinUnderRoot(srcDir, from)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(srcPath); err != nil {
			return nil, &bringerr.ContentSpecError{From: from}
		}
		destPath, err := joinUnderRoot(outDir, path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return nil, err
		}
		if err := copyTree(srcPath, destPath); err != nil {
			return nil, errors.Wrapf(err, "copying %s", from)
		}
	}
	return map[string]string{"folder": outDir}, nil
}

// mergeFoldersStep combines several input folders (named by `folders`, a
// list of input keys) into one output, later folders winning on conflicting
// paths (spec §4.4) — the same "later wins" rule targetmerge applies at
// install time, just scoped to a single pipeline run's own intermediate
// folders.
type mergeFoldersStep struct{}

func (mergeFoldersStep) Requires() []string { return nil }
func (mergeFoldersStep) Provides() []string { return []string{"folder"} }

func (mergeFoldersStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	order := fieldStringSlice(fields, "folders")
	if len(order) == 0 {
		return nil, errors.New("merge_folders: missing \"folders\" list")
	}
	if err := ensureEmptyDir(outDir); err != nil {
		return nil, err
	}
	for _, key := range order {
		src, ok := inputs[key]
		if !ok {
			return nil, errors.Errorf("merge_folders: no input named %q", key)
		}
		if err := copyOver(src, outDir); err != nil {
			return nil, errors.Wrapf(err, "merging %s", key)
		}
	}
	return map[string]string{"folder": outDir}, nil
}

func copyOver(src, dst string) error {
	return godirwalk.Walk(src, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			dest, err := joinUnderRoot(dst, rel)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			return copyTree(path, dest)
		},
	})
}
