// Package config loads the per-run configuration object: workspace
// layout, tool identities and flags, and the per-step overrides spec §6
// names. Spec §1 keeps the CLI and "the configuration loader" out of
// scope as external collaborators ("specify only their interface"); the
// ambient version here is deliberately thin, built the way the teacher
// repository builds its own config layer (github.com/sblinch/kdl-go,
// internal/config/kdl_config.go) rather than introduced from scratch.
package config

import (
	"os"
	"path/filepath"

	buildErrors "github.com/scidev/fab/internal/errors"
)

// Config is the immutable per-run configuration object passed
// explicitly to every step (spec §9, "Global state"): no process-wide
// singletons.
type Config struct {
	Workspace Workspace
	Project   Project
	Tools     Tools
	Steps     Steps
}

// Workspace describes the on-disk layout spec §6 specifies.
type Workspace struct {
	Root string // defaults to ~/fab-workspace, overridden by FAB_WORKSPACE
}

// Project names the project under the workspace root.
type Project struct {
	Label string
	// SourceRoots are the directories INITIAL_SOURCE is discovered from.
	SourceRoots []string
	// Exclude lists doublestar glob patterns, relative to each source
	// root, that discovery skips.
	Exclude []string
}

// Tools carries the external tool identities and flags spec §6 lists
// as environment variables. It has no module-folder flag fields.
type Tools struct {
	FPP    string
	FC     string
	FFlags []string
	CC     string
	CFlags []string
	LD     string
	LFlags []string
}

// Steps holds the per-step configuration surface spec §6 lists by name.
type Steps struct {
	Preprocessor PreprocessorConfig
	Analyser     AnalyserConfig
	Compile      CompileConfig
	Link         LinkConfig
	Housekeeping HousekeepingConfig
}

// PathFlags is one (glob, flags_to_add) override entry.
type PathFlags struct {
	Glob  string
	Flags []string
}

type PreprocessorConfig struct {
	CommonFlags []string
	PathFlags   []PathFlags
}

type AnalyserConfig struct {
	RootSymbols       []string
	FindPrograms      bool
	Library           bool
	UnreferencedDeps  map[string]string      // dependency name -> providing file path (spec §4.6, §6 unreferenced_deps)
	ParserWorkarounds []ParserWorkaroundSpec // special_measure_analysis_results, see types.ParserWorkaround
	ExtraIntrinsics   []string               // additional recognised intrinsic module names
}

// ParserWorkaroundSpec is the configuration-surface shape of
// types.ParserWorkaround (spec §4.6, §6 "special_measure_analysis_results"):
// the five analysed-file fields a user supplies verbatim for a file the
// parser cannot handle.
type ParserWorkaroundSpec struct {
	FilePath   string
	ModuleDefs []string
	SymbolDefs []string
	ModuleDeps []string
	SymbolDeps []string
}

type CompileConfig struct {
	CommonFlags []string
	PathFlags   []PathFlags
	TwoStage    bool
}

type LinkConfig struct {
	Flags  []string
	Linker string
}

type HousekeepingConfig struct {
	OlderThanSeconds int64 // 0 means "access-based sweep this run" (spec §4.10 default)
}

// Default returns the built-in defaults, matching the teacher's
// pattern of a fully-populated struct before any file or environment
// override is applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: Workspace{Root: filepath.Join(home, "fab-workspace")},
		Project:   Project{Label: "project"},
		Tools: Tools{
			FPP: "fpp",
			FC:  "gfortran",
			CC:  "gcc",
			LD:  "gfortran",
		},
		Steps: Steps{
			Analyser: AnalyserConfig{FindPrograms: true},
		},
	}
}

// Load builds a Config from defaults, an optional KDL file at
// configPath, and environment variable overrides, in that order
// (later sources win). It does not validate: the caller still has CLI
// flag overrides to apply (e.g. --source, --root) and those can supply
// mandatory fields Default/the KDL file/the environment left unset, so
// validation is the caller's responsibility once every source has been
// merged in — see Validate.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			loaded, err := loadKDL(configPath)
			if err != nil {
				return nil, buildErrors.Config("config", err)
			}
			mergeKDL(cfg, loaded)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyEnv applies spec §6's environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FAB_WORKSPACE"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("FPP"); v != "" {
		cfg.Tools.FPP = v
	}
	if v := os.Getenv("FC"); v != "" {
		cfg.Tools.FC = v
	}
	if v := os.Getenv("FFLAGS"); v != "" {
		cfg.Tools.FFlags = splitFlags(v)
	}
	if v := os.Getenv("CC"); v != "" {
		cfg.Tools.CC = v
	}
	if v := os.Getenv("CFLAGS"); v != "" {
		cfg.Tools.CFlags = splitFlags(v)
	}
	if v := os.Getenv("LD"); v != "" {
		cfg.Tools.LD = v
	}
	if v := os.Getenv("LFLAGS"); v != "" {
		cfg.Tools.LFlags = splitFlags(v)
	}
}

func splitFlags(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}

// BuildOutputDir is build_output/ under the project directory.
func (c *Config) BuildOutputDir() string {
	return filepath.Join(c.Workspace.Root, c.Project.Label, "build_output")
}

// PrebuildDir is build_output/_prebuild, the content-addressed cache.
func (c *Config) PrebuildDir() string {
	return filepath.Join(c.BuildOutputDir(), "_prebuild")
}

// MetricsDir is metrics/ under the project directory.
func (c *Config) MetricsDir() string {
	return filepath.Join(c.Workspace.Root, c.Project.Label, "metrics")
}

// SourceDir is source/ under the project directory (the grab output,
// spec §6).
func (c *Config) SourceDir() string {
	return filepath.Join(c.Workspace.Root, c.Project.Label, "source")
}
