package preprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scidev/fab/internal/config"
	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/fingerprint"
	"github.com/scidev/fab/internal/prebuild"
	"github.com/scidev/fab/internal/runtime"
	"github.com/scidev/fab/internal/store"
	"github.com/scidev/fab/internal/types"
)

// Driver is the preprocessor driver (spec §4.5).
type Driver struct {
	Cache       *prebuild.Cache
	Runner      Runner
	BuildOutput string

	Tool        string // FPP or CC, depending on which method is called
	CommonFlags []string
	PathFlags   []config.PathFlags
}

// flagsFor returns CommonFlags plus every PathFlags entry whose glob
// matches path, in configured order (spec §6).
func (d *Driver) flagsFor(path string) []string {
	flags := append([]string(nil), d.CommonFlags...)
	for _, pf := range d.PathFlags {
		if matched, _ := doublestar.Match(pf.Glob, path); matched {
			flags = append(flags, pf.Flags...)
		}
	}
	return flags
}

// prebuildKey computes hash(source_content || tool_identity || tool_flags).
func (d *Driver) prebuildKey(sourcePath, outSuffix string) (prebuild.Key, string, error) {
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return prebuild.Key{}, "", buildErrors.IO(sourcePath, err)
	}
	flags := d.flagsFor(sourcePath)
	fp := fingerprint.CombineStrings(append([]string{string(content), d.Tool}, flags...)...)
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return prebuild.Key{Stem: stem, Hash: fp, Suffix: types.SuffixObject}, outSuffix, nil
}

// PreprocessFortran implements spec §4.5's Fortran path: filters
// uppercase .F90 in FORTRAN_BUILD_FILES, writes lowercase .f90 under
// build_output, replaces the collection entries, and publishes
// PREPROCESSED_FORTRAN. Lowercase .f90 files not already under
// build_output are copied unchanged so all downstream paths live in
// one place.
func PreprocessFortran(ctx context.Context, s *store.Store, d *Driver, fppFlagAppendP bool) error {
	paths, err := store.GetPaths(s, store.FortranBuildFiles)
	if err != nil {
		return err
	}

	type outcome struct {
		newPath string
		err     error
	}

	results, err := runtime.RunMP(ctx, "preprocess.fortran", paths, func(ctx context.Context, path string) (outcome, error) {
		if !strings.HasSuffix(path, ".F90") && !strings.HasSuffix(path, ".F") {
			out, copyErr := copyIntoBuildOutput(path, d.BuildOutput)
			return outcome{newPath: out, err: copyErr}, nil
		}
		out, procErr := d.preprocessOne(ctx, path, fppFlagAppendP)
		return outcome{newPath: out, err: procErr}, nil
	})
	if err != nil {
		return err
	}

	newPaths := make([]string, 0, len(results))
	var failures []error
	for i, r := range results {
		if r.err != nil {
			failures = append(failures, buildErrors.ToolFailure("preprocess", paths[i], r.err.Error()))
			continue
		}
		newPaths = append(newPaths, r.newPath)
	}
	if agg := buildErrors.NewAggregate("preprocess.fortran", failures); agg != nil {
		return agg
	}

	store.SetPaths(s, store.FortranBuildFiles, newPaths)
	store.SetPaths(s, store.PreprocessedFortran, newPaths)
	return nil
}

func (d *Driver) preprocessOne(ctx context.Context, path string, appendP bool) (string, error) {
	key, outSuffix, err := d.prebuildKey(path, "f90")
	key.Suffix = types.Suffix(outSuffix)
	if err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outPath := filepath.Join(d.BuildOutput, stem+"."+outSuffix)

	if cached, ok := d.Cache.Lookup(key); ok {
		if err := d.Cache.Recover(key, types.Path(outPath)); err != nil {
			return "", err
		}
		_ = cached
		return outPath, nil
	}

	flags := append([]string(nil), d.flagsFor(path)...)
	if appendP {
		hasP := false
		for _, f := range flags {
			if f == "-P" {
				hasP = true
			}
		}
		if !hasP {
			flags = append(flags, "-P")
		}
	}
	args := append(flags, path, "-o", outPath)

	stderr, runErr := d.Runner.Run(ctx, d.Tool, args)
	if runErr != nil {
		return "", fmt.Errorf("%s %s: %w (%s)", d.Tool, path, runErr, stderr)
	}

	if err := d.Cache.Store(types.Path(outPath), key); err != nil {
		return "", err
	}
	return outPath, nil
}

// PreprocessC implements spec §4.5's C path: reads C_BUILD_FILES,
// writes preprocessed .c to build_output, replaces entries.
func PreprocessC(ctx context.Context, s *store.Store, d *Driver) error {
	paths, err := store.GetPaths(s, store.CBuildFiles)
	if err != nil {
		return err
	}

	results, err := runtime.RunMP(ctx, "preprocess.c", paths, func(ctx context.Context, path string) (string, error) {
		return d.preprocessCOne(ctx, path)
	})
	if err != nil {
		return err
	}

	store.SetPaths(s, store.CBuildFiles, results)
	store.SetPaths(s, store.PreprocessedC, results)
	return nil
}

func (d *Driver) preprocessCOne(ctx context.Context, path string) (string, error) {
	key, _, err := d.prebuildKey(path, "c")
	if err != nil {
		return "", err
	}
	key.Suffix = types.SuffixObject // preprocessed C is cached the same way as any intermediate artefact

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outPath := filepath.Join(d.BuildOutput, stem+".c")

	if _, ok := d.Cache.Lookup(key); ok {
		if err := d.Cache.Recover(key, types.Path(outPath)); err != nil {
			return "", err
		}
		return outPath, nil
	}

	args := append(append([]string(nil), d.flagsFor(path)...), path, "-o", outPath)
	stderr, runErr := d.Runner.Run(ctx, d.Tool, args)
	if runErr != nil {
		return "", fmt.Errorf("%s %s: %w (%s)", d.Tool, path, runErr, stderr)
	}
	if err := d.Cache.Store(types.Path(outPath), key); err != nil {
		return "", err
	}
	return outPath, nil
}

func copyIntoBuildOutput(path, buildOutput string) (string, error) {
	if filepath.Dir(path) == buildOutput {
		return path, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", buildErrors.IO(path, err)
	}
	out := filepath.Join(buildOutput, filepath.Base(path))
	if err := os.WriteFile(out, content, 0o644); err != nil {
		return "", buildErrors.IO(out, err)
	}
	return out, nil
}
