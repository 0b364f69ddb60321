package compile

import (
	"context"
	"fmt"
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
	"github.com/scidev/fab/internal/store"
	"github.com/scidev/fab/internal/types"
)

// CDriver compiles every C file in a build tree in a single wave
// (spec §4.8, "C"): no inter-file dependency ordering applies to C
// translation units.
type CDriver struct {
	Cache       *prebuild.Cache
	Runner      preprocess.Runner
	BuildOutput string

	Tool        string
	CommonFlags []string
	PathFlags   []config.PathFlags
}

func (d *CDriver) flagsFor(path types.Path) []string {
	flags := append([]string(nil), d.CommonFlags...)
	for _, pf := range d.PathFlags {
		if matched, _ := doublestar.Match(pf.Glob, string(path)); matched {
			flags = append(flags, pf.Flags...)
		}
	}
	hasC := false
	for _, f := range flags {
		if f == "-c" {
			hasC = true
		}
	}
	if !hasC {
		flags = append(flags, "-c")
	}
	return flags
}

// CompileTree compiles every C file in g, returning the object paths.
func (d *CDriver) CompileTree(ctx context.Context, root string, g *graph.Graph) ([]string, error) {
	var cFiles []types.Path
	for path, f := range g.Files {
		if f.Lang() == types.LanguageC {
			cFiles = append(cFiles, path)
		}
	}
	sort.Slice(cFiles, func(i, j int) bool { return cFiles[i] < cFiles[j] })

	type outcome struct {
		objPath string
		err     error
	}

	results, _ := runtime.RunMP(ctx, "compile.c", cFiles, func(ctx context.Context, path types.Path) (outcome, error) {
		f := g.Files[path]
		flags := d.flagsFor(path)
		fp := fingerprint.CombineStrings(append([]string{fmt.Sprint(f.ContentHash()), d.Tool}, flags...)...)
		objPath, err := d.compileOne(ctx, path, flags, fp)
		return outcome{objPath: objPath, err: err}, nil
	})

	objects := make([]string, 0, len(results))
	var failures []error
	for i, r := range results {
		if r.err != nil {
			failures = append(failures, buildErrors.ToolFailure("compile.c", string(cFiles[i]), r.err.Error()))
			continue
		}
		objects = append(objects, r.objPath)
	}
	if agg := buildErrors.NewAggregate("compile.c["+root+"]", failures); agg != nil {
		return objects, agg
	}
	return objects, nil
}

func (d *CDriver) compileOne(ctx context.Context, path types.Path, flags []string, fp types.Fingerprint) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(string(path)), filepath.Ext(string(path)))
	key := prebuild.Key{Stem: stem, Hash: fp, Suffix: types.SuffixObject}
	objPath := filepath.Join(d.BuildOutput, stem+".o")

	if _, ok := d.Cache.Lookup(key); ok {
		if err := d.Cache.Recover(key, types.Path(objPath)); err != nil {
			return "", err
		}
		return objPath, nil
	}

	args := append(append([]string(nil), flags...), string(path), "-o", objPath)
	stderr, err := d.Runner.Run(ctx, d.Tool, args)
	if err != nil {
		return "", buildErrors.ToolFailure("compile.c", string(path), stderr)
	}
	if err := d.Cache.Store(types.Path(objPath), key); err != nil {
		return "", err
	}
	return objPath, nil
}

// Step runs the C compiler over every BUILD_TREES entry, merging its
// objects into OBJECT_FILES alongside the Fortran scheduler's.
func Step(fortran *FortranDriver, c *CDriver) func(ctx context.Context, s *store.Store) error {
	return func(ctx context.Context, s *store.Store) error {
		raw, err := s.Get(store.BuildTrees)
		if err != nil {
			return err
		}
		trees, ok := raw.(map[string]*graph.Graph)
		if !ok {
			return buildErrors.MissingCollection(string(store.BuildTrees))
		}

		objectFiles := map[string][]string{}
		for _, root := range runtime.SortedKeys(trees) {
			fortranObjs, err := fortran.CompileTree(ctx, root, trees[root])
			if err != nil {
				return err
			}
			cObjs, err := c.CompileTree(ctx, root, trees[root])
			if err != nil {
				return err
			}
			merged := append(append([]string(nil), fortranObjs...), cObjs...)
			merged = append(merged, trees[root].PragmaObjectDeps()...)
			sort.Strings(merged)
			objectFiles[root] = merged
		}
		s.Set(store.ObjectFiles, objectFiles)
		return nil
	}
}
