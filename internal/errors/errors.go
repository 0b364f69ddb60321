// Package errors defines the build's error taxonomy (spec §7): a closed
// set of error kinds, each carrying the context a caller needs to
// report or aggregate it, modelled on the teacher's IndexingError.
package errors

import (
	"fmt"
	"strings"
)

// Kind is one of the error kinds spec §7 enumerates.
type Kind string

const (
	KindConfig            Kind = "config"
	KindIO                Kind = "io"
	KindToolFailure       Kind = "tool_failure"
	KindParse             Kind = "parse"
	KindDuplicateDefn     Kind = "duplicate_definition"
	KindRootNotFound      Kind = "root_not_found"
	KindCompileStalled    Kind = "compile_stalled"
	KindBlockedBy         Kind = "blocked_by"
	KindCycleDetected     Kind = "cycle_detected"
	KindMissingCollection Kind = "missing_collection"
	KindLinkFailed        Kind = "link_failed"
)

// BuildError is the single error type every step returns; Kind
// discriminates which spec §7 case it is.
type BuildError struct {
	Kind       Kind
	Stage      string
	Path       string
	Name       string
	Paths      []string // used by CycleDetected and aggregated reports
	Underlying error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		fmt.Fprintf(&b, " in %s", e.Stage)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, " %v", e.Paths)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Underlying }

// Config reports a ConfigError: missing mandatory field, unresolvable
// tool, or a bad workspace path. Always fatal, surfaced before any step
// runs.
func Config(stage string, err error) *BuildError {
	return &BuildError{Kind: KindConfig, Stage: stage, Underlying: err}
}

// IO reports a filesystem read/write failure, fatal for that item.
func IO(path string, err error) *BuildError {
	return &BuildError{Kind: KindIO, Path: path, Underlying: err}
}

// ToolFailure reports an external tool (preprocessor/compiler/linker)
// that returned non-zero; stderr is carried as the underlying error text.
func ToolFailure(stage, path, stderr string) *BuildError {
	return &BuildError{Kind: KindToolFailure, Stage: stage, Path: path, Underlying: fmt.Errorf("%s", stderr)}
}

// Parse reports an analyser that could not parse a file and no
// ParserWorkaround covers it.
func Parse(path string, err error) *BuildError {
	return &BuildError{Kind: KindParse, Path: path, Underlying: err}
}

// DuplicateDefinition reports the graph-assembly uniqueness violation:
// two files defining the same module or externally-visible symbol.
func DuplicateDefinition(name, a, b string) *BuildError {
	return &BuildError{Kind: KindDuplicateDefn, Name: name, Paths: []string{a, b}}
}

// RootNotFound reports that no file defines a requested root symbol.
// suggestion, if non-empty, names the closest known symbol.
func RootNotFound(name, suggestion string) *BuildError {
	err := &BuildError{Kind: KindRootNotFound, Name: name}
	if suggestion != "" {
		err.Underlying = fmt.Errorf("did you mean %q?", suggestion)
	}
	return err
}

// CycleDetected reports a strongly connected component of more than one
// file in the source graph (self-edges from intra-file USE are ignored
// before this is raised).
func CycleDetected(paths []string) *BuildError {
	return &BuildError{Kind: KindCycleDetected, Paths: paths}
}

// CompileStalled reports that a wave produced no progress: either a
// missed dependency or a cycle the extractor failed to catch.
func CompileStalled(remaining []string) *BuildError {
	return &BuildError{Kind: KindCompileStalled, Paths: remaining}
}

// BlockedBy reports a file that cannot progress because a module
// dependency failed to compile. Non-fatal by itself; it contributes to
// the step's aggregated failure.
func BlockedBy(path, blockingPath string) *BuildError {
	return &BuildError{Kind: KindBlockedBy, Path: path, Name: blockingPath}
}

// MissingCollection reports a read of a collection name the store has
// never had set.
func MissingCollection(name string) *BuildError {
	return &BuildError{Kind: KindMissingCollection, Name: name}
}

// LinkFailed reports that the linker returned non-zero for root.
func LinkFailed(root, stderr string) *BuildError {
	return &BuildError{Kind: KindLinkFailed, Name: root, Underlying: fmt.Errorf("%s", stderr)}
}

// Aggregate combines item-level failures from one step into a single
// error naming every offender, per spec §7's policy.
type Aggregate struct {
	Stage  string
	Errors []error
}

func (a *Aggregate) Error() string {
	if len(a.Errors) == 1 {
		return fmt.Sprintf("%s: %v", a.Stage, a.Errors[0])
	}
	msgs := make([]string, len(a.Errors))
	for i, e := range a.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%s: %d failures: %s", a.Stage, len(a.Errors), strings.Join(msgs, "; "))
}

func (a *Aggregate) Unwrap() []error { return a.Errors }

// NewAggregate returns nil if errs is empty, otherwise an *Aggregate
// naming every offender for stage.
func NewAggregate(stage string, errs []error) error {
	var filtered []error
	for _, e := range errs {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &Aggregate{Stage: stage, Errors: filtered}
}
