// Package step implements C4: the nine pipeline step executors (spec §4.4),
// each a typed transform over a per-run scratch workspace. Grounded on the
// teacher's source_manager.go dispatch-by-kind pattern, generalized from
// "fetch one of a few VCS kinds" to "run one of nine declared step kinds".
package step

import (
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
	"github.com/pkg/errors"

	"github.com/bringpkg/bring/gitmirror"
	"github.com/bringpkg/bring/httpfetch"
	"github.com/bringpkg/bring/log"
)

// RunContext is the shared environment one pipeline run passes to every
// step executor (spec §4.5): the scratch workspace directory plus handles
// onto the caching subsystems steps may need.
type RunContext struct {
	Workspace string
	GitMirror *gitmirror.Manager
	Fetcher   *httpfetch.Fetcher
	Logger    *log.Logger
}

// Executor is one step kind's implementation.
type Executor interface {
	// Requires names the input keys this step reads from the running
	// result mapping (spec §4.5's "typed requires/provides contracts").
	Requires() []string
	// Provides names the output keys this step adds to the result
	// mapping.
	Provides() []string
	// Run executes the step. fields are the step descriptor's own keys
	// (already ${}-substituted by the caller); inputs holds the values
	// named by Requires, looked up from the running result mapping.
	// outDir is a fresh, step-private subdirectory of rc.Workspace the
	// step should write any filesystem output into.
	Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error)
}

var registry = map[string]Executor{
	"download":                 downloadStep{},
	"download_multiple_files":  downloadMultipleFilesStep{},
	"git_clone":                gitCloneStep{},
	"extract":                  extractStep{},
	"file_filter":              fileFilterStep{},
	"rename":                   renameStep{},
	"set_mode":                 setModeStep{},
	"folder_content":           folderContentStep{},
	"merge_folders":            mergeFoldersStep{},
}

// Lookup returns the Executor registered for kind.
func Lookup(kind string) (Executor, bool) {
	e, ok := registry[kind]
	return e, ok
}

func fieldString(fields map[string]interface{}, key string) string {
	if v, ok := fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func fieldBool(fields map[string]interface{}, key string, def bool) bool {
	if v, ok := fields[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func fieldStringSlice(fields map[string]interface{}, key string) []string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// copyTree copies src into dst using otiai10/copy, the same library the
// teacher's project_manager.go reaches for when writing a vendor tree out to
// disk without going through go/build.
func copyTree(src, dst string) error {
	return copy.Copy(src, dst)
}

func ensureEmptyDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating step output dir %s", dir)
	}
	return nil
}

func joinUnderRoot(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	if !withinRoot(root, full) {
		return "", errors.Errorf("path %q escapes its folder root", rel)
	}
	return full, nil
}

func withinRoot(root, full string) bool {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0:2] == ".." && (len(rel) == 2 || rel[2] == filepath.Separator)
}
