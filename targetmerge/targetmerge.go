// Package targetmerge implements C9: merging an installed package's files
// into the caller's target folder under a chosen strategy, and tracking
// which target paths came from which package so a later uninstall/update
// can undo exactly that contribution. Grounded on the teacher's
// typed_radix.go (a github.com/armon/go-radix tree keyed by import path),
// here keyed by target-relative file path instead.
package targetmerge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	radix "github.com/armon/go-radix"
	"github.com/otiai10/copy"
	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/cachepath"
)

// Strategy selects how merge resolves a path that exists both in the
// incoming package and in the target folder already (spec §4.9).
type Strategy string

const (
	// StrategyDefault overwrites only paths this same package already
	// owns per the tracking sidecar (a re-install is idempotent) and
	// refuses any path owned by another package or not tracked at all.
	StrategyDefault Strategy = "default"
	// StrategyForce overwrites unconditionally, tracked or not.
	StrategyForce Strategy = "force"
	// StrategyUpdate behaves like StrategyDefault; it exists as a
	// separate, explicit name for the common "I am intentionally
	// updating a package already here" caller intent, even though the
	// conflict rule it applies is identical.
	StrategyUpdate Strategy = "update"
)

// trackingFile is the per-target sidecar name. Per the Open Question
// decision recorded in DESIGN.md, the format is a flat JSON object mapping
// target-relative path -> owning package key (sourceType + version id +
// transform hash), loaded wholesale into a radix tree at merge time so
// ownership lookups never re-walk the target folder.
const trackingFile = ".bring-installed.json"

// Tracking is the decoded sidecar plus its radix index.
type Tracking struct {
	Owners map[string]string
	tree   *radix.Tree
}

// LoadTracking reads targetDir's sidecar, returning an empty Tracking if
// none exists yet.
func LoadTracking(targetDir string) (*Tracking, error) {
	raw, err := os.ReadFile(filepath.Join(targetDir, trackingFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Tracking{Owners: map[string]string{}, tree: radix.New()}, nil
		}
		return nil, errors.Wrap(err, "reading tracking sidecar")
	}
	var owners map[string]string
	if err := json.Unmarshal(raw, &owners); err != nil {
		return nil, errors.Wrap(err, "corrupt tracking sidecar")
	}
	t := &Tracking{Owners: owners, tree: radix.New()}
	for path, owner := range owners {
		t.tree.Insert(path, owner)
	}
	return t, nil
}

// OwnerOf returns the package key that owns path, if tracked.
func (t *Tracking) OwnerOf(path string) (string, bool) {
	v, ok := t.tree.Get(path)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// PathsOwnedBy returns every tracked path whose owner is pkgKey, sorted. It
// walks every entry of the radix tree, comparing each owner to pkgKey.
func (t *Tracking) PathsOwnedBy(pkgKey string) []string {
	var out []string
	t.tree.Walk(func(path string, v interface{}) bool {
		if v.(string) == pkgKey {
			out = append(out, path)
		}
		return false
	})
	sort.Strings(out)
	return out
}

func (t *Tracking) set(path, pkgKey string) {
	t.Owners[path] = pkgKey
	t.tree.Insert(path, pkgKey)
}

func (t *Tracking) delete(path string) {
	delete(t.Owners, path)
	t.tree.Delete(path)
}

func (t *Tracking) save(targetDir string) error {
	raw, err := json.MarshalIndent(t.Owners, "", "  ")
	if err != nil {
		return err
	}
	final := filepath.Join(targetDir, trackingFile)
	tmp := cachepath.TempSibling(final)
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// Merge copies srcDir's contents into targetDir under pkgKey's ownership,
// applying strategy's conflict rule to any path that already exists in
// targetDir (spec §4.9). Paths previously owned by pkgKey but no longer
// present in srcDir are removed and untracked, so re-installing a package
// with a narrower ContentSpec cleans up after its earlier, wider install.
func Merge(srcDir, targetDir, pkgKey string, strategy Strategy) error {
	if err := cachepath.EnsureDir(targetDir); err != nil {
		return err
	}
	tracking, err := LoadTracking(targetDir)
	if err != nil {
		return err
	}

	incoming, err := listFiles(srcDir)
	if err != nil {
		return err
	}

	for _, rel := range incoming {
		srcPath := filepath.Join(srcDir, rel)
		dstPath := filepath.Join(targetDir, rel)

		if _, err := os.Stat(dstPath); err == nil {
			owner, tracked := tracking.OwnerOf(rel)
			switch strategy {
			case StrategyForce:
				// always overwrite, tracked or not
			default: // StrategyDefault and StrategyUpdate both refuse
				// to clobber a path this exact package doesn't
				// already own — re-running the same package's
				// install is idempotent, but two different
				// packages colliding on a path is always a
				// conflict outside StrategyForce.
				if !tracked || owner != pkgKey {
					return &bringerr.MergeConflictError{Path: rel, Strategy: string(strategy)}
				}
			}
		}

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return err
		}
		if err := copy.Copy(srcPath, dstPath); err != nil {
			return errors.Wrapf(err, "merging %s", rel)
		}
		tracking.set(rel, pkgKey)
	}

	for _, previouslyOwned := range tracking.PathsOwnedBy(pkgKey) {
		if !contains(incoming, previouslyOwned) {
			os.Remove(filepath.Join(targetDir, previouslyOwned))
			tracking.delete(previouslyOwned)
		}
	}

	return tracking.save(targetDir)
}

// Unmerge removes every path pkgKey owns in targetDir and untracks them.
func Unmerge(targetDir, pkgKey string) error {
	tracking, err := LoadTracking(targetDir)
	if err != nil {
		return err
	}
	for _, rel := range tracking.PathsOwnedBy(pkgKey) {
		os.Remove(filepath.Join(targetDir, rel))
		tracking.delete(rel)
	}
	return tracking.save(targetDir)
}

func listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
