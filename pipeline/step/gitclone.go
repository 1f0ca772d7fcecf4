package step

import "github.com/pkg/errors"

// gitCloneStep checks out `ref` from `url` into the step output folder
// (spec §4.4), delegating ref resolution to gitmirror.Manager.MaterializeRef
// (C2).
type gitCloneStep struct{}

func (gitCloneStep) Requires() []string { return nil }
func (gitCloneStep) Provides() []string { return []string{"folder"} }

func (gitCloneStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	url := fieldString(fields, "url")
	ref := fieldString(fields, "ref")
	if url == "" || ref == "" {
		return nil, errors.New("git_clone: requires \"url\" and \"ref\"")
	}
	if err := rc.GitMirror.MaterializeRef(url, ref, outDir); err != nil {
		return nil, err
	}
	return map[string]string{"folder": outDir}, nil
}
