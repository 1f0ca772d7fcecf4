package step

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// downloadStep fetches `url` into the cache and copies it into the step
// output as `file` (default basename of url) (spec §4.4).
type downloadStep struct{}

func (downloadStep) Requires() []string { return nil }
func (downloadStep) Provides() []string { return []string{"folder"} }

func (downloadStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	url := fieldString(fields, "url")
	if url == "" {
		return nil, errors.New("download: missing \"url\"")
	}
	name := fieldString(fields, "file")
	if name == "" {
		name = filepath.Base(url)
	}

	cached, err := rc.Fetcher.Get(url)
	if err != nil {
		return nil, err
	}
	if err := ensureEmptyDir(outDir); err != nil {
		return nil, err
	}
	if err := copyTree(cached, filepath.Join(outDir, name)); err != nil {
		return nil, errors.Wrapf(err, "copying downloaded file %s", name)
	}
	return map[string]string{"folder": outDir}, nil
}

// downloadMultipleFilesStep fetches several named URLs into one output
// folder (spec §4.4), each keyed by its declared target filename.
type downloadMultipleFilesStep struct{}

func (downloadMultipleFilesStep) Requires() []string { return nil }
func (downloadMultipleFilesStep) Provides() []string { return []string{"folder"} }

func (downloadMultipleFilesStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	filesVal, _ := fields["files"].(map[string]interface{})
	if len(filesVal) == 0 {
		return nil, errors.New("download_multiple_files: missing or empty \"files\" map")
	}
	if err := ensureEmptyDir(outDir); err != nil {
		return nil, err
	}

	for name, urlVal := range filesVal {
		url, _ := urlVal.(string)
		if url == "" {
			return nil, errors.Errorf("download_multiple_files: entry %q has no string url", name)
		}
		cached, err := rc.Fetcher.Get(url)
		if err != nil {
			return nil, err
		}
		dest, err := joinUnderRoot(outDir, name)
		if err != nil {
			return nil, err
		}
		if err := copyTree(cached, dest); err != nil {
			return nil, errors.Wrapf(err, "copying %s", name)
		}
	}
	return map[string]string{"folder": outDir}, nil
}
