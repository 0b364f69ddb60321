// Command fab drives one build run of the orchestrator described in
// internal/runtime: discovery, preprocessing, analysis, build-tree
// extraction, compilation, archiving/linking, and housekeeping, all
// threaded through a single internal/store.Store. Grounded on the
// teacher's cmd/lci/main.go: a single urfave/cli/v2 app whose build
// command loads configuration itself, and os.Exit with the process's
// exit code on the way out.
package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/scidev/fab/internal/analyser"
	"github.com/scidev/fab/internal/compile"
	"github.com/scidev/fab/internal/config"
	"github.com/scidev/fab/internal/discovery"
	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/graph"
	"github.com/scidev/fab/internal/housekeep"
	"github.com/scidev/fab/internal/link"
	"github.com/scidev/fab/internal/metrics"
	"github.com/scidev/fab/internal/prebuild"
	"github.com/scidev/fab/internal/preprocess"
	"github.com/scidev/fab/internal/runtime"
	"github.com/scidev/fab/internal/store"
	"github.com/scidev/fab/internal/types"
)

func main() {
	app := &cli.App{
		Name:  "fab",
		Usage: "build orchestrator for Fortran/C scientific projects",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "discover, analyse, compile, and link a project",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Usage: "workspace root (overrides FAB_WORKSPACE)"},
					&cli.StringFlag{Name: "project", Usage: "project label"},
					&cli.StringSliceFlag{Name: "source", Usage: "source root to discover (repeatable)"},
					&cli.StringSliceFlag{Name: "root", Usage: "root PROGRAM/main symbol to build (repeatable)"},
					&cli.BoolFlag{Name: "library", Usage: "build one tree containing every node"},
					&cli.BoolFlag{Name: "find-programs", Usage: "auto-discover every PROGRAM/main as a root"},
					&cli.BoolFlag{Name: "two-stage", Usage: "compile Fortran in syntax-only then codegen passes"},
					&cli.StringFlag{Name: "config", Usage: "path to a fab.kdl configuration file"},
				},
				Action: buildCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy (spec §7) onto spec §6's process
// exit codes: 0 success, 1 any fatal build error, 2 configuration error.
// Configuration errors are always returned directly by config.Load/Validate,
// never folded into an Aggregate, so a single type assertion suffices.
func exitCodeFor(err error) int {
	if be, ok := err.(*buildErrors.BuildError); ok && be.Kind == buildErrors.KindConfig {
		return 2
	}
	return 1
}

func buildCommand(c *cli.Context) (err error) {
	defer func() { reportOutcome(err) }()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyCLIOverrides(cfg, c)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	for _, dir := range []string{cfg.BuildOutputDir(), cfg.PrebuildDir(), cfg.MetricsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return buildErrors.IO(dir, err)
		}
	}

	cache, err := prebuild.New(cfg.PrebuildDir())
	if err != nil {
		return err
	}
	collector := &metrics.Collector{}

	s := store.New()
	driver := runtime.NewDriver()
	wireSteps(driver, cfg, cache, collector)

	ctx := context.Background()
	buildErr := driver.RunAll(ctx, s)

	// Housekeeping and metrics flush run at scope exit regardless of
	// build outcome (spec §2: "on scope exit housekeeping runs and
	// metrics are flushed"; spec §7: "partial failure does not
	// invalidate successful cache writes").
	policy := housekeep.Policy{OlderThan: time.Duration(cfg.Steps.Housekeeping.OlderThanSeconds) * time.Second}
	if _, hkErr := housekeep.Run(cache, policy); hkErr != nil && buildErr == nil {
		buildErr = hkErr
	}
	if flushErr := collector.Flush(cfg.MetricsDir(), cache); flushErr != nil && buildErr == nil {
		buildErr = flushErr
	}

	return buildErr
}

// reportOutcome prints the build's final disposition in colour: green
// for a clean run, yellow for a stalled/blocked wave (recoverable by
// re-running once the blocker is fixed), red for anything else.
func reportOutcome(err error) {
	if err == nil {
		color.New(color.FgGreen, color.Bold).Println("build succeeded")
		return
	}
	var be *buildErrors.BuildError
	if asBE, ok := err.(*buildErrors.BuildError); ok {
		be = asBE
	}
	if be != nil && (be.Kind == buildErrors.KindCompileStalled || be.Kind == buildErrors.KindBlockedBy) {
		color.New(color.FgYellow).Println("build stalled:", err)
		return
	}
	color.New(color.FgRed).Println("build failed:", err)
}

func applyCLIOverrides(cfg *config.Config, c *cli.Context) {
	if v := c.String("workspace"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := c.String("project"); v != "" {
		cfg.Project.Label = v
	}
	if roots := c.StringSlice("source"); len(roots) > 0 {
		cfg.Project.SourceRoots = roots
	}
	if roots := c.StringSlice("root"); len(roots) > 0 {
		cfg.Steps.Analyser.RootSymbols = roots
	}
	if c.Bool("library") {
		cfg.Steps.Analyser.Library = true
	}
	if c.Bool("find-programs") {
		cfg.Steps.Analyser.FindPrograms = true
	}
	if c.Bool("two-stage") {
		cfg.Steps.Compile.TwoStage = true
	}
}

// wireSteps adds every pipeline step to driver in the declared order of
// spec §2: discovery, preprocess, analyse, extract build trees,
// compile, archive/link. Housekeeping and metrics are scope-exit
// concerns handled by the caller, not steps themselves.
func wireSteps(driver *runtime.Driver, cfg *config.Config, cache *prebuild.Cache, collector *metrics.Collector) {
	runner := preprocess.DefaultRunner{}
	buildOutput := cfg.BuildOutputDir()

	scanner := discovery.NewScanner(cfg.Project.Exclude)
	driver.Add(runtime.Step{Name: "discovery", Run: func(ctx context.Context, s *store.Store) error {
		if err := discovery.Step(scanner, cfg.Project.SourceRoots)(s); err != nil {
			return err
		}
		if paths, err := store.GetPaths(s, store.InitialSource); err == nil {
			collector.AddDiscovered(len(paths))
		}
		return nil
	}})

	fortranPP := &preprocess.Driver{
		Cache: cache, Runner: runner, BuildOutput: buildOutput,
		Tool: cfg.Tools.FPP, CommonFlags: cfg.Tools.FFlags, PathFlags: cfg.Steps.Preprocessor.PathFlags,
	}
	driver.Add(runtime.Step{Name: "preprocess.fortran", Run: func(ctx context.Context, s *store.Store) error {
		if err := preprocess.PreprocessFortran(ctx, s, fortranPP, true); err != nil {
			return err
		}
		if paths, err := store.GetPaths(s, store.FortranBuildFiles); err == nil {
			collector.AddPreprocessed(len(paths))
		}
		return nil
	}})

	cPP := &preprocess.Driver{
		Cache: cache, Runner: runner, BuildOutput: buildOutput,
		Tool: cfg.Tools.CC, CommonFlags: append([]string{"-E"}, cfg.Tools.CFlags...), PathFlags: cfg.Steps.Preprocessor.PathFlags,
	}
	driver.Add(runtime.Step{Name: "preprocess.c", Run: func(ctx context.Context, s *store.Store) error {
		if err := preprocess.PreprocessC(ctx, s, cPP); err != nil {
			return err
		}
		if paths, err := store.GetPaths(s, store.CBuildFiles); err == nil {
			collector.AddPreprocessed(len(paths))
		}
		return nil
	}})

	analyserDriver := &analyser.Driver{
		Cache:       cache,
		Fortran:     analyser.NewFortranExtractor(cfg.Steps.Analyser.ExtraIntrinsics),
		C:           analyser.NewCExtractor(),
		BuildOutput: buildOutput,
		Workarounds: parserWorkarounds(cfg.Steps.Analyser.ParserWorkarounds),
	}
	driver.Add(runtime.Step{Name: "analyse", Run: func(ctx context.Context, s *store.Store) error {
		if err := analyser.Step(analyserDriver)(ctx, s); err != nil {
			return err
		}
		if raw, err := s.Get(store.SourceGraph); err == nil {
			if files, ok := raw.([]types.AnalysedFile); ok {
				collector.AddAnalysed(len(files))
			}
		}
		return nil
	}})

	rootSpec := graph.RootSpec{
		Names:        cfg.Steps.Analyser.RootSymbols,
		AutoDiscover: cfg.Steps.Analyser.FindPrograms && len(cfg.Steps.Analyser.RootSymbols) == 0,
		Library:      cfg.Steps.Analyser.Library,
	}
	unreferenced := make(map[string]types.Path, len(cfg.Steps.Analyser.UnreferencedDeps))
	for name, path := range cfg.Steps.Analyser.UnreferencedDeps {
		unreferenced[name] = types.Path(path)
	}
	driver.Add(runtime.Step{Name: "buildtree", Run: graph.Step(rootSpec, unreferenced)})

	fortranCompile := &compile.FortranDriver{
		Cache: cache, Runner: runner, BuildOutput: buildOutput,
		Tool: fortranToolIdentity(cfg.Tools.FC), Version: "", CommonFlags: cfg.Steps.Compile.CommonFlags,
		PathFlags: cfg.Steps.Compile.PathFlags, TwoStage: cfg.Steps.Compile.TwoStage,
		SyntaxOnlyFlag: syntaxOnlyFlag(cfg.Tools.FC),
	}
	cCompile := &compile.CDriver{
		Cache: cache, Runner: runner, BuildOutput: buildOutput,
		Tool: cfg.Tools.CC, CommonFlags: cfg.Tools.CFlags, PathFlags: cfg.Steps.Compile.PathFlags,
	}
	driver.Add(runtime.Step{Name: "compile", Run: func(ctx context.Context, s *store.Store) error {
		err := compile.Step(fortranCompile, cCompile)(ctx, s)
		if raw, getErr := s.Get(store.ObjectFiles); getErr == nil {
			if objs, ok := raw.(map[string][]string); ok {
				total := 0
				for _, v := range objs {
					total += len(v)
				}
				collector.AddCompiled(total)
			}
		}
		if err != nil {
			collector.AddCompileFailures(1)
		}
		return err
	}})

	linkDriver := &link.Driver{
		Runner: runner, BuildOutput: buildOutput,
		Archiver: "ar", ArchiveFlags: []string{"rcs"},
		Linker: cfg.Tools.LD, Flags: append(append([]string(nil), cfg.Tools.LFlags...), cfg.Steps.Link.Flags...),
	}
	if cfg.Steps.Link.Linker != "" {
		linkDriver.Linker = cfg.Steps.Link.Linker
	}
	driver.Add(runtime.Step{Name: "archive", Run: func(ctx context.Context, s *store.Store) error {
		err := link.ArchiveStep(linkDriver)(ctx, s)
		if raw, getErr := s.Get(store.ObjectArchives); getErr == nil {
			if m, ok := raw.(map[string]string); ok {
				collector.AddArchives(len(m))
			}
		}
		return err
	}})
	driver.Add(runtime.Step{Name: "link", Run: func(ctx context.Context, s *store.Store) error {
		err := link.LinkStep(linkDriver)(ctx, s)
		if paths, getErr := store.GetPaths(s, store.Executables); getErr == nil {
			collector.AddExecutables(len(paths))
		}
		return err
	}})
}

// parserWorkarounds converts the configuration surface's
// special_measure_analysis_results entries into the analyser.Driver's
// path-keyed form (spec §4.6, §6, scenario S4), so a file the parser
// rejects can still be analysed from user-supplied fields.
func parserWorkarounds(specs []config.ParserWorkaroundSpec) map[types.Path]types.ParserWorkaround {
	out := make(map[types.Path]types.ParserWorkaround, len(specs))
	for _, s := range specs {
		out[types.Path(s.FilePath)] = types.ParserWorkaround{
			FilePath:   types.Path(s.FilePath),
			ModuleDefs: s.ModuleDefs,
			SymbolDefs: s.SymbolDefs,
			ModuleDeps: s.ModuleDeps,
			SymbolDeps: s.SymbolDeps,
		}
	}
	return out
}

// fortranToolIdentity maps a configured FC binary to the managed-flags
// identity (spec §4.8): anything with "ifort" in its basename is
// treated as ifort, everything else as gfortran.
func fortranToolIdentity(fc string) compile.ToolIdentity {
	if strings.Contains(strings.ToLower(filepath.Base(fc)), "ifort") {
		return compile.ToolIfort
	}
	return compile.ToolGfortran
}

func syntaxOnlyFlag(fc string) string {
	if strings.Contains(strings.ToLower(filepath.Base(fc)), "ifort") {
		return "-syntax-only"
	}
	return "-fsyntax-only"
}
