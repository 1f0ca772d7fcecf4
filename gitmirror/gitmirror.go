// Package gitmirror implements C2: a shared, content-addressed mirror of
// remote git repositories, grounded on the teacher's vcs_repo.go /
// vcs_source.go use of github.com/Masterminds/vcs, with
// github.com/theckman/go-flock added for cross-process coordination the way
// the teacher's sm.go "ctx lock" implied but never quite finished hooking
// up to a real process-level lock.
package gitmirror

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"
	"github.com/theckman/go-flock"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/cachepath"
	"github.com/bringpkg/bring/log"
)

// Manager mirrors remote repositories into cachepath.Roots.GitCheckouts,
// one bare-ish working mirror per remote URL, keyed by URLHash the same way
// C1 keys downloads.
type Manager struct {
	roots  cachepath.Roots
	logger *log.Logger
}

// New returns a Manager rooted at roots.
func New(roots cachepath.Roots, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Std
	}
	return &Manager{roots: roots, logger: logger}
}

func (m *Manager) mirrorPath(url string) string {
	return filepath.Join(m.roots.GitCheckouts(), cachepath.URLHash(url))
}

func (m *Manager) lockPath(url string) string {
	return m.mirrorPath(url) + ".lock"
}

// EnsureCloned makes sure a local mirror of url exists and is up to date,
// returning its local path. A concurrent caller mirroring the same url
// blocks on a flock rather than racing the clone (spec §4.2).
func (m *Manager) EnsureCloned(url string) (string, error) {
	if err := cachepath.EnsureDir(m.roots.GitCheckouts()); err != nil {
		return "", err
	}

	fl := flock.NewFlock(m.lockPath(url))
	if err := fl.Lock(); err != nil {
		return "", errors.Wrapf(err, "locking git mirror for %s", url)
	}
	defer fl.Unlock()

	path := m.mirrorPath(url)
	repo, err := vcs.NewRepo(url, path)
	if err != nil {
		return "", &bringerr.GitError{URL: url, Op: "init", Err: err}
	}

	if repo.CheckLocal() {
		if err := repo.Update(); err != nil {
			return "", &bringerr.GitError{URL: url, Op: "update", Err: err}
		}
		return path, nil
	}

	if err := repo.Get(); err != nil {
		return "", &bringerr.GitError{URL: url, Op: "clone", Err: err}
	}
	return path, nil
}

// MaterializeRef checks out ref from url's mirror into targetPath, a fresh
// directory that must not already exist (spec §4.2). Resolution order is
// tag, then local branch, then remote branch, matching vcs.GitRepo's own
// precedence when UpdateVersion is given each kind of ref in turn.
func (m *Manager) MaterializeRef(url, ref, targetPath string) error {
	if _, err := os.Stat(targetPath); err == nil {
		return &bringerr.TargetExistsError{Path: targetPath}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "stat %s", targetPath)
	}

	mirror, err := m.EnsureCloned(url)
	if err != nil {
		return err
	}

	info, err := m.Info(url)
	if err != nil {
		return err
	}
	if !info.HasTag(ref) && !info.HasLocalBranch(ref) && !info.HasRemoteBranch(ref) {
		return &bringerr.InvalidRefError{URL: url, Ref: ref}
	}

	tmp := cachepath.TempSibling(targetPath)
	defer os.RemoveAll(tmp)

	mirrorRepo, err := vcs.NewRepo(url, mirror)
	if err != nil {
		return &bringerr.GitError{URL: url, Op: "init", Err: err}
	}
	workingRepo, err := vcs.NewRepo(mirror, tmp)
	if err != nil {
		return &bringerr.GitError{URL: url, Op: "init-working", Err: err}
	}
	if err := workingRepo.Get(); err != nil {
		return &bringerr.GitError{URL: url, Op: "checkout-clone", Err: err}
	}
	_ = mirrorRepo
	if err := workingRepo.UpdateVersion(ref); err != nil {
		return &bringerr.GitError{URL: url, Op: "checkout", Err: err}
	}

	return cachepath.AtomicRename(tmp, targetPath)
}

// CommitMeta is the metadata spec §4.2's `commits: hash→{author_date,
// author_timezone}` map carries for one commit.
type CommitMeta struct {
	AuthorDate     time.Time
	AuthorTimezone string
}

// TagRef names one tag and the commit it points at.
type TagRef struct {
	Name   string
	Commit string
}

// MirrorInfo holds the branches/tags/commits the mirror currently knows
// about (spec §4.2: `branches: name→commit`, `tags: name→commit` ordered by
// commit date descending, `commits: hash→{author_date, author_timezone}`),
// used both by MaterializeRef's ref resolution and by source plugins that
// build PkgVersions directly from commits (use_commits_as_versions) or need
// the newest tag (the `latest` alias).
type MirrorInfo struct {
	// Branches maps branch name to the commit hash it currently points at.
	// The teacher's GitRepo.Branches() only enumerates refs under the
	// mirror's single remote, so local and remote branches are the same
	// set here; HasLocalBranch and HasRemoteBranch both consult it.
	Branches map[string]string
	// Tags is ordered newest-commit-first (spec §4.2), so Tags[0] is
	// always the version NewestTag reports for the `latest` alias.
	Tags    []TagRef
	Commits map[string]CommitMeta
}

func (i MirrorInfo) HasTag(ref string) bool {
	for _, t := range i.Tags {
		if t.Name == ref {
			return true
		}
	}
	return false
}

func (i MirrorInfo) HasLocalBranch(ref string) bool {
	_, ok := i.Branches[ref]
	return ok
}

func (i MirrorInfo) HasRemoteBranch(ref string) bool {
	_, ok := i.Branches[stripOrigin(ref)]
	return ok
}

// NewestTag returns the tag with the most recent commit date, the basis of
// the `latest` alias for git_repo (spec §4.6: "latest aliases the newest
// tag, or master if no tags").
func (i MirrorInfo) NewestTag() (string, bool) {
	if len(i.Tags) == 0 {
		return "", false
	}
	return i.Tags[0].Name, true
}

func stripOrigin(ref string) string {
	return strings.TrimPrefix(ref, "origin/")
}

// Info returns url's current tags/branches/commits, mirroring it first if
// needed. Commit metadata is fetched one `git log` per ref via the
// teacher's vcs_repo.go CommitInfo pattern (vcs.GitRepo.CommitInfo), since
// Masterminds/vcs's Tags/Branches calls return bare names with no commit
// data of their own.
func (m *Manager) Info(url string) (MirrorInfo, error) {
	path, err := m.EnsureCloned(url)
	if err != nil {
		return MirrorInfo{}, err
	}
	repo, err := vcs.NewRepo(url, path)
	if err != nil {
		return MirrorInfo{}, &bringerr.GitError{URL: url, Op: "init", Err: err}
	}
	gitRepo, ok := repo.(*vcs.GitRepo)
	if !ok {
		return MirrorInfo{}, &bringerr.GitError{URL: url, Op: "info", Err: errors.Errorf("mirror at %s is not a git repository", path)}
	}

	tagNames, err := gitRepo.Tags()
	if err != nil {
		return MirrorInfo{}, &bringerr.GitError{URL: url, Op: "tags", Err: err}
	}
	branchNames, err := gitRepo.Branches()
	if err != nil {
		return MirrorInfo{}, &bringerr.GitError{URL: url, Op: "branches", Err: err}
	}

	commits := map[string]CommitMeta{}
	tags := make([]TagRef, 0, len(tagNames))
	for _, name := range tagNames {
		ci, err := gitRepo.CommitInfo(name)
		if err != nil {
			return MirrorInfo{}, &bringerr.GitError{URL: url, Op: "commit-info", Err: err}
		}
		commits[ci.Commit] = CommitMeta{AuthorDate: ci.Date, AuthorTimezone: ci.Date.Format("-0700")}
		tags = append(tags, TagRef{Name: name, Commit: ci.Commit})
	}
	sort.Slice(tags, func(a, b int) bool {
		return commits[tags[a].Commit].AuthorDate.After(commits[tags[b].Commit].AuthorDate)
	})

	branches := make(map[string]string, len(branchNames))
	for _, name := range branchNames {
		ci, err := gitRepo.CommitInfo(name)
		if err != nil {
			return MirrorInfo{}, &bringerr.GitError{URL: url, Op: "commit-info", Err: err}
		}
		commits[ci.Commit] = CommitMeta{AuthorDate: ci.Date, AuthorTimezone: ci.Date.Format("-0700")}
		branches[name] = ci.Commit
	}

	return MirrorInfo{Branches: branches, Tags: tags, Commits: commits}, nil
}
