package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validBaseConfig() *Config {
	cfg := Default()
	cfg.Project.SourceRoots = []string{"/src"}
	return cfg
}

func TestValidateRejectsEmptyWorkspace(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Workspace.Root = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ConfigError for an empty workspace root")
	}
}

func TestValidateRejectsMissingSourceRoots(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ConfigError when no source roots are configured")
	}
}

func TestValidateRejectsMissingTools(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Tools.FC = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ConfigError for a missing Fortran compiler")
	}
}

func TestValidateRejectsLibraryAndExplicitRootsTogether(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Steps.Analyser.Library = true
	cfg.Steps.Analyser.RootSymbols = []string{"main"}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ConfigError for library mode combined with explicit roots")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := Validate(validBaseConfig()); err != nil {
		t.Fatalf("expected a well-formed config to validate, got %v", err)
	}
}

func TestDefaultHasSensibleToolDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Tools.FC != "gfortran" || cfg.Tools.CC != "gcc" || cfg.Tools.LD != "gfortran" {
		t.Fatalf("unexpected tool defaults: %+v", cfg.Tools)
	}
	if !cfg.Steps.Analyser.FindPrograms {
		t.Fatalf("expected FindPrograms to default true")
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FAB_WORKSPACE", dir)
	t.Setenv("FC", "ifort")
	t.Setenv("FFLAGS", "-O3 -g")

	cfg := Default()
	cfg.Project.SourceRoots = []string{dir}
	applyEnv(cfg)

	if cfg.Workspace.Root != dir {
		t.Fatalf("expected FAB_WORKSPACE to override workspace root, got %s", cfg.Workspace.Root)
	}
	if cfg.Tools.FC != "ifort" {
		t.Fatalf("expected FC to override the Fortran compiler, got %s", cfg.Tools.FC)
	}
	if len(cfg.Tools.FFlags) != 2 || cfg.Tools.FFlags[0] != "-O3" || cfg.Tools.FFlags[1] != "-g" {
		t.Fatalf("expected FFLAGS to split on whitespace, got %v", cfg.Tools.FFlags)
	}
}

func TestLoadWithoutConfigFileUsesDefaultsAndEnv(t *testing.T) {
	// Load no longer validates: the caller still has CLI overrides
	// (e.g. --source) to merge in before mandatory fields like
	// Project.SourceRoots can be checked, so Load succeeds here even
	// though the returned config is not yet buildable.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected Load with no config file to succeed on bare defaults, got %v", err)
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to still reject a config with no source roots")
	}
}

func TestBuildOutputDirLayout(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = "/ws"
	cfg.Project.Label = "myproj"
	if got := cfg.BuildOutputDir(); got != filepath.Join("/ws", "myproj", "build_output") {
		t.Fatalf("unexpected BuildOutputDir: %s", got)
	}
	if got := cfg.PrebuildDir(); got != filepath.Join("/ws", "myproj", "build_output", "_prebuild") {
		t.Fatalf("unexpected PrebuildDir: %s", got)
	}
}

func TestLoadParsesKDLFile(t *testing.T) {
	dir := t.TempDir()
	kdlPath := filepath.Join(dir, "fab.kdl")
	content := `workspace {
    root "` + dir + `"
}
project {
    label "demo"
    source_roots "` + dir + `"
}
tools {
    fc "ifort"
    fflags "-O2" "-g"
}
`
	if err := os.WriteFile(kdlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(kdlPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Project.Label != "demo" {
		t.Fatalf("expected project label 'demo' from KDL, got %q", cfg.Project.Label)
	}
	if cfg.Tools.FC != "ifort" {
		t.Fatalf("expected fc override from KDL, got %q", cfg.Tools.FC)
	}
	if len(cfg.Project.SourceRoots) != 1 || cfg.Project.SourceRoots[0] != dir {
		t.Fatalf("expected source_roots from KDL, got %v", cfg.Project.SourceRoots)
	}
}

func TestLoadParsesUnreferencedDepsAndParserWorkarounds(t *testing.T) {
	dir := t.TempDir()
	kdlPath := filepath.Join(dir, "fab.kdl")
	content := `workspace {
    root "` + dir + `"
}
project {
    label "demo"
    source_roots "` + dir + `"
}
analyser {
    unreferenced_deps {
        legacy_helper "src/legacy/helper.f90"
    }
    parser_workarounds {
        workaround {
            path "src/legacy/file.f90"
            module_defs "my_mod"
            symbol_defs "my_func"
            module_deps "other_mod"
            symbol_deps "other_func"
        }
    }
}
`
	if err := os.WriteFile(kdlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(kdlPath)
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.Steps.Analyser.UnreferencedDeps["legacy_helper"]; got != "src/legacy/helper.f90" {
		t.Fatalf("expected unreferenced_deps to map legacy_helper -> src/legacy/helper.f90, got %q (map: %v)",
			got, cfg.Steps.Analyser.UnreferencedDeps)
	}

	if len(cfg.Steps.Analyser.ParserWorkarounds) != 1 {
		t.Fatalf("expected exactly one parser workaround, got %v", cfg.Steps.Analyser.ParserWorkarounds)
	}
	wa := cfg.Steps.Analyser.ParserWorkarounds[0]
	if wa.FilePath != "src/legacy/file.f90" {
		t.Fatalf("expected workaround path, got %q", wa.FilePath)
	}
	if len(wa.ModuleDefs) != 1 || wa.ModuleDefs[0] != "my_mod" {
		t.Fatalf("expected workaround module_defs [my_mod], got %v", wa.ModuleDefs)
	}
	if len(wa.SymbolDefs) != 1 || wa.SymbolDefs[0] != "my_func" {
		t.Fatalf("expected workaround symbol_defs [my_func], got %v", wa.SymbolDefs)
	}
	if len(wa.ModuleDeps) != 1 || wa.ModuleDeps[0] != "other_mod" {
		t.Fatalf("expected workaround module_deps [other_mod], got %v", wa.ModuleDeps)
	}
	if len(wa.SymbolDeps) != 1 || wa.SymbolDeps[0] != "other_func" {
		t.Fatalf("expected workaround symbol_deps [other_func], got %v", wa.SymbolDeps)
	}
}
