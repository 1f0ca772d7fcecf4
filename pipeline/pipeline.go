// Package pipeline implements C5: sequential execution of a PkgVersion's
// step list against a per-run scratch workspace, grounded on the teacher's
// solver.go run-loop structure (a fixed sequence of named phases, each
// producing state the next phase reads) generalized from "solve a
// dependency graph" to "run a declared step list".
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
	"golang.org/x/sync/semaphore"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/cachepath"
	"github.com/bringpkg/bring/gitmirror"
	"github.com/bringpkg/bring/httpfetch"
	"github.com/bringpkg/bring/log"
	"github.com/bringpkg/bring/pipeline/step"
	"github.com/bringpkg/bring/pkgsource"
)

// Pipeline runs one PkgVersion's step list (spec §4.5).
type Pipeline struct {
	roots     cachepath.Roots
	gitMirror *gitmirror.Manager
	fetcher   *httpfetch.Fetcher
	logger    *log.Logger
	// Debug disables scratch-workspace cleanup after a failed run, so the
	// failed run's intermediate folders can be inspected by hand.
	Debug bool
}

// New returns a Pipeline wired to the given caching subsystems.
func New(roots cachepath.Roots, gm *gitmirror.Manager, fetcher *httpfetch.Fetcher, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Std
	}
	return &Pipeline{roots: roots, gitMirror: gm, fetcher: fetcher, logger: logger}
}

// Result is the outcome of one successful Run: the final step's output
// folder.
type Result struct {
	FolderPath string
}

// Run executes steps in order against a fresh workspace named runID,
// threading each step's outputs into a running result mapping that later
// steps' Requires draw from. The last step's "folder" output becomes the
// Pipeline's result. A failed run's workspace is removed (unless Debug); a
// successful run's workspace holds the result folder and is left in place.
func (p *Pipeline) Run(ctx context.Context, runID string, steps []pkgsource.StepDescriptor) (*Result, error) {
	return p.RunWithSeed(ctx, runID, steps, nil)
}

// RunWithSeed behaves like Run, but pre-populates the running result
// mapping with seed before the first step executes. pkginstall uses this to
// hand a package's Transform step list the already-fetched version data
// under the key "folder", since Transform lists are declared to act on an
// existing folder rather than to fetch one themselves (spec §4.8).
func (p *Pipeline) RunWithSeed(ctx context.Context, runID string, steps []pkgsource.StepDescriptor, seed map[string]string) (res *Result, err error) {
	ws := p.roots.Workspace(runID)
	if err := cachepath.EnsureDir(ws); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && !p.Debug {
			os.RemoveAll(ws)
		}
	}()

	rc := step.RunContext{Workspace: ws, GitMirror: p.gitMirror, Fetcher: p.fetcher, Logger: p.logger}

	values := map[string]string{}
	for k, v := range seed {
		values[k] = v
	}
	var lastFolder string
	if f, ok := seed["folder"]; ok {
		lastFolder = f
	}

	for i, sd := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		exec, ok := step.Lookup(sd.Type)
		if !ok {
			return nil, &bringerr.PipelineStepError{StepKind: sd.Type, StepIndex: i, Err: errors.Errorf("unknown step kind %q", sd.Type)}
		}

		inputs := map[string]string{}
		for _, req := range exec.Requires() {
			v, ok := values[req]
			if !ok {
				return nil, &bringerr.PipelineStepError{
					StepKind: sd.Type, StepIndex: i,
					Err: errors.Errorf("missing required input %q", req),
				}
			}
			inputs[req] = v
		}

		outDir := fmt.Sprintf("%s/step-%02d-%s", ws, i, sd.Type)
		outputs, err := exec.Run(rc, sd.Fields, inputs, outDir)
		if err != nil {
			return nil, wrapStepErr(sd.Type, i, err)
		}
		for k, v := range outputs {
			values[k] = v
			if k == "folder" {
				lastFolder = v
			}
		}
	}

	if lastFolder == "" {
		return nil, errors.New("pipeline: step list produced no folder output")
	}
	return &Result{FolderPath: lastFolder}, nil
}

func wrapStepErr(kind string, index int, err error) error {
	if pse, ok := err.(*bringerr.PipelineStepError); ok {
		return pse
	}
	return &bringerr.PipelineStepError{StepKind: kind, StepIndex: index, Err: err}
}

// RunMany runs several independent step lists concurrently, bounded by
// maxConcurrent in-flight pipelines (spec §4.5's fan-out cap), using
// golang.org/x/sync/semaphore the way the teacher's solve_bimodal.go caps
// concurrent source-manager lookups. ctx1 and ctx2 are composed with
// constext.Cons so that cancelling either the caller's request context or an
// internal timeout context stops every pipeline still running.
func (p *Pipeline) RunMany(ctx1, ctx2 context.Context, maxConcurrent int64, runs map[string][]pkgsource.StepDescriptor) (map[string]*Result, error) {
	ctx, cancel := constext.Cons(ctx1, ctx2)
	defer cancel()

	sem := semaphore.NewWeighted(maxConcurrent)
	results := make(map[string]*Result, len(runs))
	errs := make(map[string]error)
	type outcome struct {
		id     string
		result *Result
		err    error
	}
	outcomes := make(chan outcome, len(runs))

	for id, steps := range runs {
		id, steps := id, steps
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes <- outcome{id: id, err: err}
			continue
		}
		go func() {
			defer sem.Release(1)
			r, err := p.Run(ctx, id, steps)
			outcomes <- outcome{id: id, result: r, err: err}
		}()
	}

	for range runs {
		o := <-outcomes
		if o.err != nil {
			errs[o.id] = o.err
			continue
		}
		results[o.id] = o.result
	}

	if len(errs) > 0 {
		for id, err := range errs {
			return results, errors.Wrapf(err, "pipeline run %s", id)
		}
	}
	return results, nil
}
