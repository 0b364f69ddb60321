// Package compile implements the compile scheduler (spec §4.8): the
// wave-based parallel Fortran scheduler with an optional two-stage
// (syntax-only/codegen) pass, and the single-wave C compiler. Grounded
// on the teacher's internal/indexing/concurrent_operations.go
// worker-batch idiom, dispatched here through internal/runtime.RunMP.
package compile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scidev/fab/internal/config"
	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/fingerprint"
	"github.com/scidev/fab/internal/graph"
	"github.com/scidev/fab/internal/prebuild"
	"github.com/scidev/fab/internal/preprocess"
	"github.com/scidev/fab/internal/runtime"
	"github.com/scidev/fab/internal/types"
)

// ToolIdentity describes the compiler the managed-flags rules key off
// (spec §4.8, "Managed flags"): gfortran uses -J for its module
// output directory, ifort uses -module.
type ToolIdentity string

const (
	ToolGfortran ToolIdentity = "gfortran"
	ToolIfort    ToolIdentity = "ifort"
)

func (t ToolIdentity) moduleFlag() string {
	if t == ToolIfort {
		return "-module"
	}
	return "-J"
}

// FortranDriver runs the wave-based Fortran compile scheduler.
type FortranDriver struct {
	Cache       *prebuild.Cache
	Runner      preprocess.Runner
	BuildOutput string

	Tool        ToolIdentity
	Version     string
	CommonFlags []string
	PathFlags   []config.PathFlags
	TwoStage    bool

	SyntaxOnlyFlag string // e.g. "-fsyntax-only" for gfortran
}

func (d *FortranDriver) flagsFor(path types.Path) []string {
	flags := append([]string(nil), d.CommonFlags...)
	for _, pf := range d.PathFlags {
		if matched, _ := doublestar.Match(pf.Glob, string(path)); matched {
			flags = append(flags, pf.Flags...)
		}
	}
	return manageFlags(flags, d.Tool, d.BuildOutput)
}

// manageFlags enforces spec §4.8's "Managed flags": -c present,
// module-folder flags stripped from user flags and re-added pointing
// at buildOutput.
func manageFlags(flags []string, tool ToolIdentity, buildOutput string) []string {
	modFlag := tool.moduleFlag()
	out := make([]string, 0, len(flags)+2)
	hasC := false
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		if f == modFlag {
			if i+1 < len(flags) {
				log.Printf("compile: stripping user module-folder flag %s %s, re-adding %s %s", f, flags[i+1], modFlag, buildOutput)
				i++ // skip its argument too
			} else {
				log.Printf("compile: stripping user module-folder flag %s, re-adding %s %s", f, modFlag, buildOutput)
			}
			continue
		}
		if strings.HasPrefix(f, modFlag) && f != modFlag {
			log.Printf("compile: stripping user module-folder flag %s, re-adding %s %s", f, modFlag, buildOutput)
			continue // e.g. "-Jfoo" glued form
		}
		if f == "-c" {
			hasC = true
		}
		out = append(out, f)
	}
	if !hasC {
		out = append(out, "-c")
	}
	out = append(out, modFlag, buildOutput)
	return out
}

// compileFingerprint computes hash(content_hash || compiler_identity
// || compiler_version || compiler_flags_for_this_path ||
// sorted(content_hashes of module_deps' producing files)) (spec §4.8).
// depFPs must already be resolved bottom-up by the caller.
func compileFingerprint(f types.AnalysedFile, tool ToolIdentity, version string, flags []string, depFPs []types.Fingerprint) types.Fingerprint {
	sorted := append([]types.Fingerprint(nil), depFPs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := []string{fmt.Sprint(f.ContentHash()), string(tool), version}
	parts = append(parts, flags...)
	for _, fp := range sorted {
		parts = append(parts, fmt.Sprint(fp))
	}
	return fingerprint.CombineStrings(parts...)
}

// wave computes the dependency-wave partition of the tree's files,
// bottom-up, so each file's compile fingerprint is known before it is
// needed by a dependent (spec §4.8 step 1's "recursive dependency").
// Only Fortran files are scheduled; C files in the tree are left to
// CDriver.
func wave(g *graph.Graph) ([][]types.Path, error) {
	remaining := map[types.Path]bool{}
	for p, f := range g.Files {
		if f.Lang() == types.LanguageFortran {
			remaining[p] = true
		}
	}

	var waves [][]types.Path

	for len(remaining) > 0 {
		var ready []types.Path
		for p := range remaining {
			satisfied := true
			for _, dep := range g.Edges[p] {
				if remaining[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, p)
			}
		}
		if len(ready) == 0 {
			var stuck []string
			for p := range remaining {
				stuck = append(stuck, string(p))
			}
			sort.Strings(stuck)
			return nil, buildErrors.CompileStalled(stuck)
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		waves = append(waves, ready)
		for _, p := range ready {
			delete(remaining, p)
		}
	}
	return waves, nil
}

type compileResult struct {
	path    types.Path
	objPath string
	fp      types.Fingerprint
	failed  bool
	err     error
}

// CompileTree runs the Fortran scheduler over one BUILD_TREES entry,
// returning the object paths for OBJECT_FILES[root].
func (d *FortranDriver) CompileTree(ctx context.Context, root string, g *graph.Graph) ([]string, error) {
	waves, err := wave(g)
	if err != nil {
		return nil, err
	}

	if d.TwoStage {
		if _, err := d.runPasses(ctx, waves, g, true); err != nil {
			return nil, err
		}
	}
	results, err := d.runPasses(ctx, waves, g, false)
	if err != nil {
		return nil, err
	}

	objects := make([]string, 0, len(results))
	var failures []error
	for _, r := range results {
		if r.failed {
			failures = append(failures, r.err)
			continue
		}
		objects = append(objects, r.objPath)
	}
	sort.Strings(objects)
	if agg := buildErrors.NewAggregate(fmt.Sprintf("compile.fortran[%s]", root), failures); agg != nil {
		return objects, agg
	}
	return objects, nil
}

// runPasses compiles every wave in order; syntaxOnly selects pass A of
// the two-stage mode (spec §4.8, "Fortran, two-stage"). Each wave runs
// to completion — "the scheduler completes all runnable siblings
// before reporting" (spec §4.8) — so a failure in wave k still lets
// unaffected files in k+1.. attempt compilation; only files chained to
// the failure via BlockedBy are skipped.
func (d *FortranDriver) runPasses(ctx context.Context, waves [][]types.Path, g *graph.Graph, syntaxOnly bool) ([]compileResult, error) {
	fps := map[types.Path]types.Fingerprint{}
	failed := map[types.Path]bool{}
	var all []compileResult

	for _, w := range waves {
		results, _ := runtime.RunMP(ctx, "compile.fortran", w, func(ctx context.Context, path types.Path) (compileResult, error) {
			f := g.Files[path]

			var blocker types.Path
			for _, dep := range g.Edges[path] {
				if failed[dep] {
					blocker = dep
					break
				}
			}
			if blocker != "" {
				return compileResult{path: path, failed: true, err: buildErrors.BlockedBy(string(path), string(blocker))}, nil
			}

			depFPs := make([]types.Fingerprint, 0, len(g.Edges[path]))
			for _, dep := range g.Edges[path] {
				depFPs = append(depFPs, fps[dep])
			}

			// The fingerprint is computed from the base flags only, not
			// the syntax-only flag: spec §4.8 "Fortran, two-stage" requires
			// pass A and pass B module artefacts to share the same key so
			// pass A's modules satisfy pass B.
			flags := d.flagsFor(path)
			fp := compileFingerprint(f, d.Tool, d.Version, flags, depFPs)

			invokeFlags := flags
			if syntaxOnly && d.SyntaxOnlyFlag != "" {
				invokeFlags = append(append([]string(nil), flags...), d.SyntaxOnlyFlag)
			}

			objPath, err := d.compileOne(ctx, path, invokeFlags, fp, syntaxOnly, f.ModuleDefs())
			if err != nil {
				return compileResult{path: path, failed: true, err: err}, nil
			}
			return compileResult{path: path, objPath: objPath, fp: fp}, nil
		})
		for _, r := range results {
			fps[r.path] = r.fp
			if r.failed {
				failed[r.path] = true
			}
			all = append(all, r)
		}
	}
	return all, nil
}

// moduleKey returns the prebuild key for the .mod file a compile of
// fingerprint fp is expected to produce for moduleName (spec §4.8 step
// 2: "check the prebuild cache for both <stem>.<fp>.o and every
// <module>.<fp>.mod the file is expected to produce"). gfortran and
// ifort both lowercase the module name for the on-disk file.
func moduleKey(moduleName string, fp types.Fingerprint) prebuild.Key {
	return prebuild.Key{Stem: strings.ToLower(moduleName), Hash: fp, Suffix: types.SuffixModule}
}

func (d *FortranDriver) modulePath(moduleName string) string {
	return filepath.Join(d.BuildOutput, strings.ToLower(moduleName)+".mod")
}

// compileOne compiles path, serving the object (and this file's
// modules) from the prebuild cache when every expected variant is
// already present, and seeding the cache from the compiler's output
// otherwise. modules lists the module names this file defines.
func (d *FortranDriver) compileOne(ctx context.Context, path types.Path, flags []string, fp types.Fingerprint, syntaxOnly bool, modules []string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(string(path)), filepath.Ext(string(path)))
	key := prebuild.Key{Stem: stem, Hash: fp, Suffix: types.SuffixObject}
	objPath := filepath.Join(d.BuildOutput, stem+".o")

	moduleKeys := make([]prebuild.Key, len(modules))
	for i, m := range modules {
		moduleKeys[i] = moduleKey(m, fp)
	}

	allModulesHit := true
	for _, mk := range moduleKeys {
		if _, ok := d.Cache.Lookup(mk); !ok {
			allModulesHit = false
			break
		}
	}

	if syntaxOnly {
		// Pass A produces only modules; a hit needs just those.
		if allModulesHit && len(moduleKeys) > 0 {
			for i, mk := range moduleKeys {
				if err := d.Cache.Recover(mk, types.Path(d.modulePath(modules[i]))); err != nil {
					return "", err
				}
			}
			return "", nil
		}
	} else if objHit := func() bool { _, ok := d.Cache.Lookup(key); return ok }(); objHit && allModulesHit {
		if err := d.Cache.Recover(key, types.Path(objPath)); err != nil {
			return "", err
		}
		for i, mk := range moduleKeys {
			if err := d.Cache.Recover(mk, types.Path(d.modulePath(modules[i]))); err != nil {
				return "", err
			}
		}
		return objPath, nil
	}

	args := append(append([]string(nil), flags...), string(path))
	stderr, err := d.Runner.Run(ctx, string(d.Tool), args)
	if err != nil {
		return "", buildErrors.ToolFailure("compile.fortran", string(path), stderr)
	}

	for i, m := range modules {
		modPath := d.modulePath(m)
		if _, statErr := os.Stat(modPath); statErr == nil {
			if err := d.Cache.Store(types.Path(modPath), moduleKeys[i]); err != nil {
				return "", err
			}
		}
	}

	if syntaxOnly {
		return "", nil // pass A discards objects, only modules matter
	}
	if err := d.Cache.Store(types.Path(objPath), key); err != nil {
		return "", err
	}
	return objPath, nil
}

