package config

import (
	"fmt"

	buildErrors "github.com/scidev/fab/internal/errors"
)

// Validate reports a ConfigError for an empty mandatory field
// (workspace root, project label, source roots, FC, CC, LD) and for
// library mode combined with explicit root symbols. It does not check
// that tools resolve or that the workspace path exists. Fatal,
// surfaced before any step runs.
func Validate(cfg *Config) error {
	if cfg.Workspace.Root == "" {
		return buildErrors.Config("workspace", fmt.Errorf("workspace root must not be empty"))
	}
	if cfg.Project.Label == "" {
		return buildErrors.Config("project", fmt.Errorf("project label must not be empty"))
	}
	if len(cfg.Project.SourceRoots) == 0 {
		return buildErrors.Config("project", fmt.Errorf("at least one source root is required"))
	}
	if cfg.Tools.FC == "" {
		return buildErrors.Config("tools", fmt.Errorf("a Fortran compiler (FC) must be configured"))
	}
	if cfg.Tools.CC == "" {
		return buildErrors.Config("tools", fmt.Errorf("a C compiler (CC) must be configured"))
	}
	if cfg.Tools.LD == "" {
		return buildErrors.Config("tools", fmt.Errorf("a linker (LD) must be configured"))
	}
	if cfg.Steps.Analyser.Library && len(cfg.Steps.Analyser.RootSymbols) > 0 {
		return buildErrors.Config("analyser", fmt.Errorf("library mode and explicit root symbols are mutually exclusive"))
	}
	return nil
}
