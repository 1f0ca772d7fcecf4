// Package pkginstall implements C8: installing one resolved PkgVersion,
// running its transform pipeline, and publishing the result atomically into
// the package cache. Grounded on the teacher's project_manager.go /
// sm_cache.go install-then-cache-result sequencing, generalized from
// "resolve and vendor a Go import path" to "materialize and transform one
// PkgVersion".
package pkginstall

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/otiai10/copy"
	"github.com/pkg/errors"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/cachepath"
	"github.com/bringpkg/bring/internal/deephash"
	"github.com/bringpkg/bring/log"
	"github.com/bringpkg/bring/metacache"
	"github.com/bringpkg/bring/pipeline"
	"github.com/bringpkg/bring/pkgsource"
	"github.com/bringpkg/bring/targetmerge"
)

// Package is one fully resolved install target: a source type, its matched
// PkgVersion, an optional post-fetch transform step list, and an optional
// ContentSpec narrowing what's kept (spec §4.8).
type Package struct {
	SourceType string
	Version    *pkgsource.PkgVersion
	Transform  []pkgsource.StepDescriptor
	Content    pkgsource.ContentSpec
}

// TransformHash is a pure function of Transform+Content, used to key the
// package cache the same way PkgVersion.ID keys the version cache (spec
// §4.8: "two installs of the same version with the same transform+content
// share one cache entry").
func (p *Package) TransformHash() string {
	return deephash.Sum(map[string]interface{}{
		"transform": stepsValue(p.Transform),
		"content":   contentValue(p.Content),
	})
}

func stepsValue(steps []pkgsource.StepDescriptor) []interface{} {
	out := make([]interface{}, len(steps))
	for i, s := range steps {
		m := map[string]interface{}{"type": s.Type}
		for k, v := range s.Fields {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

func contentValue(cs pkgsource.ContentSpec) []interface{} {
	out := make([]interface{}, len(cs))
	for i, it := range cs {
		out[i] = map[string]interface{}{"from": it.From, "path": it.Path, "mode": it.Mode}
	}
	return out
}

// Installer orchestrates install() for a single source type (spec §4.8).
type Installer struct {
	roots    cachepath.Roots
	pipeline *pipeline.Pipeline
	logger   *log.Logger
}

// New returns an Installer wired to the given cache roots and pipeline
// runner.
func New(roots cachepath.Roots, p *pipeline.Pipeline, logger *log.Logger) *Installer {
	if logger == nil {
		logger = log.Std
	}
	return &Installer{roots: roots, pipeline: p, logger: logger}
}

// EnsureVersionMaterialized guarantees a PkgVersion's raw fetch (without any
// transform) is present in pkg_versions/, running its Steps through the
// pipeline if it is not already cached (spec §4.8 step 1).
func (in *Installer) EnsureVersionMaterialized(ctx context.Context, sourceType string, v *pkgsource.PkgVersion) (string, error) {
	dataDir := in.roots.PkgVersionData(sourceType, v.ID())
	if fi, err := os.Stat(dataDir); err == nil && fi.IsDir() {
		return dataDir, nil
	}

	runID := fmt.Sprintf("version-%s-%s", sourceType, v.ID())
	result, err := in.pipeline.Run(ctx, runID, v.Steps)
	if err != nil {
		return "", err
	}

	if err := in.publishVersion(sourceType, v, result.FolderPath); err != nil {
		return "", err
	}
	return dataDir, nil
}

func (in *Installer) publishVersion(sourceType string, v *pkgsource.PkgVersion, built string) error {
	finalDir := in.roots.PkgVersions(sourceType, v.ID())
	tmp := cachepath.TempSibling(finalDir)
	if err := cachepath.EnsureDir(tmp); err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := copy.Copy(built, tmp+"/data"); err != nil {
		return errors.Wrap(err, "staging version data")
	}
	if err := writeVersionMeta(tmp+"/version.json", v); err != nil {
		return err
	}
	return cachepath.AtomicRename(tmp, finalDir)
}

// Install implements install() (spec §4.8): ensure the raw version is
// materialized, run the package-level Transform (if any) over a disposable
// copy, apply Content filtering, and atomically publish into packages/.
func (in *Installer) Install(ctx context.Context, pkg *Package) (string, error) {
	versionData, err := in.EnsureVersionMaterialized(ctx, pkg.SourceType, pkg.Version)
	if err != nil {
		return "", err
	}

	transformHash := pkg.TransformHash()
	finalDir := in.roots.Packages(pkg.SourceType, pkg.Version.ID(), transformHash)
	packageData := in.roots.PackageData(pkg.SourceType, pkg.Version.ID(), transformHash)
	if fi, err := os.Stat(packageData); err == nil && fi.IsDir() {
		return packageData, nil
	}

	disposable := cachepath.TempSibling(finalDir) + "_src"
	defer os.RemoveAll(disposable)
	if err := copy.Copy(versionData, disposable); err != nil {
		return "", errors.Wrap(err, "staging disposable copy for transform")
	}

	builtDir := disposable
	if len(pkg.Transform) > 0 {
		runID := fmt.Sprintf("transform-%s-%s-%s", pkg.SourceType, pkg.Version.ID(), transformHash)
		result, err := in.pipeline.RunWithSeed(ctx, runID, pkg.Transform, map[string]string{"folder": disposable})
		if err != nil {
			return "", err
		}
		builtDir = result.FolderPath
	}

	if len(pkg.Content) > 0 {
		filtered, err := applyContentSpec(builtDir, cachepath.TempSibling(finalDir)+"_content", pkg.Content)
		if err != nil {
			return "", err
		}
		defer os.RemoveAll(filtered)
		builtDir = filtered
	}

	tmp := cachepath.TempSibling(finalDir)
	if err := cachepath.EnsureDir(tmp); err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)
	if err := copy.Copy(builtDir, tmp+"/package_data"); err != nil {
		return "", errors.Wrap(err, "staging package data")
	}
	if err := cachepath.AtomicRename(tmp, finalDir); err != nil {
		return "", err
	}
	return in.roots.PackageData(pkg.SourceType, pkg.Version.ID(), transformHash), nil
}

// Resolve implements the complete install(**input_values) + merge chain
// spec §4.8/§4.9 describe: build d's VersionSource (C6), fetch its
// VersionSet through the metadata cache (C7), pick the version matching
// inputValues (find_matching_version), install it (C8: materialize, run
// Transform, apply Content, publish), and merge the result into targetDir
// under strategy (C9). This is the single entrypoint a caller (the CLI, or
// a future batch installer) drives instead of composing C6-C9 by hand.
func (in *Installer) Resolve(ctx context.Context, cache *metacache.Cache, d pkgsource.Descriptor, inputValues map[string]string, transform []pkgsource.StepDescriptor, content pkgsource.ContentSpec, targetDir string, strategy targetmerge.Strategy) (string, error) {
	src, err := pkgsource.Build(d)
	if err != nil {
		return "", err
	}

	vs, err := cache.GetVersions(d.Type, src)
	if err != nil {
		return "", err
	}

	version, err := vs.FindMatchingVersion(inputValues)
	if err != nil {
		return "", err
	}

	pkg := &Package{SourceType: d.Type, Version: version, Transform: transform, Content: content}
	packageData, err := in.Install(ctx, pkg)
	if err != nil {
		return "", err
	}

	pkgKey := PkgKey(d.Type, version.ID(), pkg.TransformHash())
	if err := targetmerge.Merge(packageData, targetDir, pkgKey, strategy); err != nil {
		return "", err
	}
	return targetDir, nil
}

// PkgKey builds the ownership key targetmerge's tracking sidecar records
// for an installed package, the same (source_type, version id, transform
// hash) triple that names its cache directory (roots.PackageData).
func PkgKey(sourceType, versionID, transformHash string) string {
	return sourceType + "/" + versionID + "/" + transformHash
}

func applyContentSpec(src, dst string, cs pkgsource.ContentSpec) (string, error) {
	if err := cachepath.EnsureDir(dst); err != nil {
		return "", err
	}
	for _, item := range cs {
		srcPath := src + "/" + item.From
		if _, err := os.Stat(srcPath); err != nil {
			return "", &bringerr.ContentSpecError{From: item.From}
		}
		destPath := dst + "/" + item.Path
		if err := cachepath.EnsureDir(parentDir(destPath)); err != nil {
			return "", err
		}
		if err := copy.Copy(srcPath, destPath); err != nil {
			return "", errors.Wrapf(err, "copying content spec entry %s", item.From)
		}
	}
	return dst, nil
}

func writeVersionMeta(path string, v *pkgsource.PkgVersion) error {
	raw, err := json.MarshalIndent(v.ToMap(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding version.json")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrap(err, "writing version.json")
	}
	return nil
}

func parentDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}
