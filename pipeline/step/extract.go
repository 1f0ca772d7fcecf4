package step

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
)

// extractStep unpacks the archive found in the `folder` input (a folder
// produced by an earlier step, containing exactly one file) into the
// step output, honoring `remove_root` (spec §4.4): when true, the archive
// must contain exactly one top-level directory entry, which is stripped.
type extractStep struct{}

func (extractStep) Requires() []string { return []string{"folder"} }
func (extractStep) Provides() []string { return []string{"folder"} }

func (extractStep) Run(rc RunContext, fields map[string]interface{}, inputs map[string]string, outDir string) (map[string]string, error) {
	srcDir, ok := inputs["folder"]
	if !ok {
		return nil, errors.New("extract: requires input \"folder\"")
	}
	removeRoot := fieldBool(fields, "remove_root", false)

	archivePath, err := soleFile(srcDir)
	if err != nil {
		return nil, err
	}

	if err := ensureEmptyDir(outDir); err != nil {
		return nil, err
	}

	entries, roots, err := extractArchive(archivePath, outDir)
	if err != nil {
		return nil, err
	}

	if removeRoot {
		if len(roots) != 1 {
			return nil, &bringerr.ArchiveStructureError{
				ArchivePath: archivePath, RemoveRoot: true, RootEntries: len(roots),
				Reason: "expected exactly one top-level directory",
			}
		}
		rootInfo, err := os.Stat(filepath.Join(outDir, roots[0]))
		if err != nil || !rootInfo.IsDir() {
			return nil, &bringerr.ArchiveStructureError{
				ArchivePath: archivePath, RemoveRoot: true, RootEntries: len(roots),
				Reason: "top-level entry is not a directory",
			}
		}
		if err := hoistRoot(outDir, roots[0]); err != nil {
			return nil, err
		}
	}
	_ = entries

	return map[string]string{"folder": outDir}, nil
}

func soleFile(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", dir)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	if len(files) != 1 {
		return "", errors.Errorf("extract: expected exactly one file in %s, found %d", dir, len(files))
	}
	return filepath.Join(dir, files[0]), nil
}

// extractArchive dispatches on archivePath's extension. It returns the set
// of top-level path components seen, for remove_root validation.
func extractArchive(archivePath, dest string) ([]string, []string, error) {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, dest)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTar(archivePath, dest, "gz")
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return extractTar(archivePath, dest, "bz2")
	case strings.HasSuffix(lower, ".tar"):
		return extractTar(archivePath, dest, "")
	default:
		return nil, nil, errors.Errorf("extract: unrecognized archive extension %q", archivePath)
	}
}

func extractZip(archivePath, dest string) ([]string, []string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening zip %s", archivePath)
	}
	defer r.Close()

	roots := map[string]bool{}
	var entries []string
	for _, f := range r.File {
		target, err := joinUnderRoot(dest, f.Name)
		if err != nil {
			return nil, nil, err
		}
		roots[topComponent(f.Name)] = true
		entries = append(entries, f.Name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, nil, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, err
		}
		if err := writeFile(target, rc, f.Mode()); err != nil {
			rc.Close()
			return nil, nil, err
		}
		rc.Close()
	}
	return entries, setToSlice(roots), nil
}

func extractTar(archivePath, dest, compression string) ([]string, []string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening tar %s", archivePath)
	}
	defer f.Close()

	var r io.Reader = f
	switch compression {
	case "gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening gzip stream")
		}
		defer gz.Close()
		r = gz
	case "bz2":
		r = bzip2.NewReader(f)
	}

	tr := tar.NewReader(r)
	roots := map[string]bool{}
	var entries []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading tar entry")
		}
		target, err := joinUnderRoot(dest, hdr.Name)
		if err != nil {
			return nil, nil, err
		}
		roots[topComponent(hdr.Name)] = true
		entries = append(entries, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, nil, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, nil, err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return nil, nil, err
			}
		}
	}
	return entries, setToSlice(roots), nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

func topComponent(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}

func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// hoistRoot moves everything under dest/root up into dest and removes root.
func hoistRoot(dest, root string) error {
	rootPath := filepath.Join(dest, root)
	tmp := dest + "_hoist_tmp"
	if err := os.Rename(rootPath, tmp); err != nil {
		return errors.Wrap(err, "hoisting archive root")
	}
	ents, err := os.ReadDir(tmp)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if err := os.Rename(filepath.Join(tmp, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return os.RemoveAll(tmp)
}
