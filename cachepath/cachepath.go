// Package cachepath implements C1: the deterministic filesystem layout bring
// uses for every cache and deposits into it atomically.
//
// No package in this module reads a cache-root path from the environment on
// its own; CacheRoots is constructed once (by the caller) and threaded
// through every constructor downstream, following the same discipline the
// teacher's SourceMgr applies to its cachedir.
package cachepath

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Roots is the set of base directories bring reads from and writes to,
// rooted under a single cache directory (spec §4.1).
type Roots struct {
	Root string
}

// New returns Roots rooted at root. root need not exist yet; the accessors
// below only compute paths, and callers create directories with EnsureDir.
func New(root string) Roots {
	return Roots{Root: root}
}

// Downloads is the content-addressed HTTP body cache.
func (r Roots) Downloads() string { return filepath.Join(r.Root, "downloads") }

// GitCheckouts holds one mirror directory per remote git URL.
func (r Roots) GitCheckouts() string { return filepath.Join(r.Root, "git_checkouts") }

// PkgMetadata returns the per-source-type directory under pkg_metadata/.
// The metadata cache (package metacache) does not use it: it keeps every
// source type's entries in one boltdb file, pkg_metadata/meta.db, with one
// bucket per source type.
func (r Roots) PkgMetadata(sourceType string) string {
	return filepath.Join(r.Root, "pkg_metadata", sourceType)
}

// PkgVersions holds fully materialized version folders, namespaced by source
// type and version id.
func (r Roots) PkgVersions(sourceType, versionID string) string {
	return filepath.Join(r.Root, "pkg_versions", sourceType, versionID)
}

// PkgVersionData is the `data/` folder inside a PkgVersions entry — the
// canonical, read-only materialization of one PkgVersion.
func (r Roots) PkgVersionData(sourceType, versionID string) string {
	return filepath.Join(r.PkgVersions(sourceType, versionID), "data")
}

// PkgVersionMeta is the version.json sidecar alongside a version folder.
func (r Roots) PkgVersionMeta(sourceType, versionID string) string {
	return filepath.Join(r.PkgVersions(sourceType, versionID), "version.json")
}

// Packages holds post-transform package folders, namespaced by source type,
// version id, and transform hash.
func (r Roots) Packages(sourceType, versionID, transformHash string) string {
	return filepath.Join(r.Root, "packages", sourceType, versionID, transformHash)
}

// PackageData is the `package_data/` folder inside a Packages entry.
func (r Roots) PackageData(sourceType, versionID, transformHash string) string {
	return filepath.Join(r.Packages(sourceType, versionID, transformHash), "package_data")
}

// Workspace is the ephemeral scratch root for one pipeline run.
func (r Roots) Workspace(pipelineID string) string {
	return filepath.Join(r.Root, "workspace", "pipelines", pipelineID)
}

// Results is the per-run output holder before target merge.
func (r Roots) Results() string { return filepath.Join(r.Root, "results") }

// URLHash returns a stable, filesystem-safe hash of a URL, used to derive
// content-addressed cache paths (downloads/ and git_checkouts/ entries).
func URLHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// EnsureDir creates dir (and its parents) if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create cache directory %s", dir)
	}
	return nil
}

// AtomicRename implements the temp-sibling-and-rename discipline required
// throughout spec §4.1: build succeeds into a randomly-suffixed sibling of
// final, then this function renames it into place. If final already exists
// by the time the rename is attempted — because a concurrent writer won the
// race — the temp sibling is discarded and this returns nil, matching the
// "loser discards its temp" language in §4.2/§4.3/§5.
func AtomicRename(tempSibling, final string) error {
	if err := EnsureDir(filepath.Dir(final)); err != nil {
		return err
	}
	if _, err := os.Stat(final); err == nil {
		// Another writer already published; we lost the race. Our temp
		// copy is disposable.
		return os.RemoveAll(tempSibling)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "cannot stat %s", final)
	}

	if err := os.Rename(tempSibling, final); err != nil {
		if os.IsExist(err) {
			return os.RemoveAll(tempSibling)
		}
		return errors.Wrapf(err, "cannot rename %s to %s", tempSibling, final)
	}
	return nil
}

// TempSibling returns a path alongside final suffixed with a random token,
// suitable as the staging location for AtomicRename.
func TempSibling(final string) string {
	return fmt.Sprintf("%s_%08x", final, rand.Uint32())
}
