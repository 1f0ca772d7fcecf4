// Package bringerr holds the structured error kinds shared across bring's
// core subsystems (spec §7). Each kind carries a human message (satisfying
// the error interface) plus the structured payload a caller needs to decide
// on remediation, without forcing callers to string-match error text.
package bringerr

import (
	"fmt"
	"time"
)

// DescriptorError reports that a PkgSource descriptor failed schema
// validation for its declared type.
type DescriptorError struct {
	SourceType string
	Field      string
	Reason     string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("descriptor for source type %q is invalid: field %q: %s", e.SourceType, e.Field, e.Reason)
}

// UnknownSourceTypeError reports that no VersionSource plugin is registered
// for a descriptor's `type` discriminator.
type UnknownSourceTypeError struct {
	SourceType string
}

func (e *UnknownSourceTypeError) Error() string {
	return fmt.Sprintf("no version source plugin registered for type %q", e.SourceType)
}

// DownloadError reports a transport or status failure after retries are
// exhausted (§4.3).
type DownloadError struct {
	URL        string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *DownloadError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("download of %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("download of %s failed after %d attempt(s): http status %d", e.URL, e.Attempts, e.LastStatus)
}

func (e *DownloadError) Unwrap() error { return e.LastErr }

// RateLimitedError reports an API-backed version source (github_files,
// gitlab_files, github_release) refusing further requests because its quota
// is exhausted.
type RateLimitedError struct {
	Source    string
	ResetAt   time.Time
	Hint      string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited, quota resets at %s (%s)", e.Source, e.ResetAt.Format(time.RFC3339), e.Hint)
}

// GitError reports a clone/fetch/ref-resolution failure from the git mirror
// manager (§4.2).
type GitError struct {
	URL string
	Op  string
	Err error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// InvalidRefError reports that materialize_ref (§4.2) could not resolve a
// ref as a tag, local branch, or remote branch.
type InvalidRefError struct {
	URL string
	Ref string
}

func (e *InvalidRefError) Error() string {
	return fmt.Sprintf("%s: ref %q is not a tag, local branch, or remote branch", e.URL, e.Ref)
}

// TargetExistsError reports that materialize_ref's target_path already
// exists (§4.2).
type TargetExistsError struct {
	Path string
}

func (e *TargetExistsError) Error() string {
	return fmt.Sprintf("target path %q already exists", e.Path)
}

// ArchiveStructureError reports that an archive's root-entry shape violates
// a declared `remove_root` (§4.4, §8).
type ArchiveStructureError struct {
	ArchivePath string
	RemoveRoot  bool
	RootEntries int
	Reason      string
}

func (e *ArchiveStructureError) Error() string {
	return fmt.Sprintf("archive %q: remove_root=%v but %s (saw %d root entries)", e.ArchivePath, e.RemoveRoot, e.Reason, e.RootEntries)
}

// ContentSpecError reports that a ContentSpec item's declared `from` path is
// absent from the transformed folder (§4.4).
type ContentSpecError struct {
	From string
}

func (e *ContentSpecError) Error() string {
	return fmt.Sprintf("content spec: declared source path %q not present in folder", e.From)
}

// NoMatchingVersionError reports that find_matching_version (§4.6) found no
// PkgVersion whose id_vars are compatible with the caller's input.
type NoMatchingVersionError struct {
	SourceID string
	Input    map[string]string
}

func (e *NoMatchingVersionError) Error() string {
	return fmt.Sprintf("no version of %s matches input %v", e.SourceID, e.Input)
}

// AmbiguousVersionError reports that more than one PkgVersion scored an
// equal, best match against the caller's input.
type AmbiguousVersionError struct {
	SourceID string
	Input    map[string]string
	Matches  int
}

func (e *AmbiguousVersionError) Error() string {
	return fmt.Sprintf("%d versions of %s are equally good matches for input %v", e.Matches, e.SourceID, e.Input)
}

// MergeConflictError reports a target-side conflict the chosen merge
// strategy forbids overwriting (§4.9).
type MergeConflictError struct {
	Path     string
	Strategy string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %q under strategy %q", e.Path, e.Strategy)
}

// PipelineStepError wraps the error raised by one step executor with the
// failing step's kind and position in the pipeline (§4.5, §7).
type PipelineStepError struct {
	StepKind  string
	StepIndex int
	Err       error
}

func (e *PipelineStepError) Error() string {
	return fmt.Sprintf("pipeline step %d (%s) failed: %v", e.StepIndex, e.StepKind, e.Err)
}

func (e *PipelineStepError) Unwrap() error { return e.Err }
