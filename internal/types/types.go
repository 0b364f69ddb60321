// Package types holds the value types shared across every step of the
// build: paths, fingerprints, and the analysed-file capability set that
// both the Fortran and C analysers produce.
package types

import "time"

// Fingerprint is a content checksum. Equal fingerprints are treated as
// equal content throughout the system (spec §4.1).
type Fingerprint uint64

// Path is an absolute filesystem path. The store never retains file
// contents between steps, only paths.
type Path string

// Suffix enumerates the three kinds of entry the prebuild cache stores.
type Suffix string

const (
	SuffixAnalysis Suffix = "an"
	SuffixObject   Suffix = "o"
	SuffixModule   Suffix = "mod"
)

// Language distinguishes the two source languages the analyser supports.
type Language string

const (
	LanguageFortran Language = "fortran"
	LanguageC       Language = "c"
)

// AnalysedFile is the shared capability set described in spec §3:
// {path, content_hash, module_defs, module_deps, symbol_defs,
// symbol_deps, file_deps}. AnalysedFortran and AnalysedC both satisfy
// it; only the analyser branches on the underlying concrete type.
type AnalysedFile interface {
	FilePath() Path
	ContentHash() Fingerprint
	ModuleDefs() []string
	ModuleDeps() []string
	SymbolDefs() []string
	SymbolDeps() []string
	FileDeps() []Path
	Lang() Language
}

// AnalysedFortran is the analysed record for one Fortran compilation unit.
type AnalysedFortran struct {
	Path           Path
	ContentFP      Fingerprint
	Modules        []string // MODULE <name> defined in this file
	Symbols        []string // PROGRAM/SUBROUTINE/FUNCTION defined at top level
	Programs       []string // subset of Symbols that are PROGRAM units, not SUBROUTINE/FUNCTION
	UsedModules    []string // USE <name>, intrinsics filtered out
	CalledSymbols  []string // standalone CALL targets not resolved via a used module
	ObjectFileDeps []Path   // "! DEPENDS ON:" pragma targets
}

func (f *AnalysedFortran) FilePath() Path           { return f.Path }
func (f *AnalysedFortran) ContentHash() Fingerprint { return f.ContentFP }
func (f *AnalysedFortran) ModuleDefs() []string     { return f.Modules }
func (f *AnalysedFortran) ModuleDeps() []string     { return f.UsedModules }
func (f *AnalysedFortran) SymbolDefs() []string     { return f.Symbols }
func (f *AnalysedFortran) SymbolDeps() []string     { return f.CalledSymbols }
func (f *AnalysedFortran) FileDeps() []Path         { return f.ObjectFileDeps }
func (f *AnalysedFortran) Lang() Language           { return LanguageFortran }

// ProgramDefs returns the subset of SymbolDefs that are PROGRAM units,
// the only Fortran symbols automatic root discovery should ever mint
// as executable targets (spec §4.7, "automatic discovery of every
// program"). Satisfies ProgramDefiner.
func (f *AnalysedFortran) ProgramDefs() []string { return f.Programs }

// ProgramDefiner is implemented by analysed files that can distinguish
// PROGRAM units from other symbol definitions, letting the build-tree
// extractor's automatic root discovery (graph.discoverRoots) find real
// programs without hard-coding the concrete Fortran analysed-file type.
type ProgramDefiner interface {
	ProgramDefs() []string
}

// AnalysedC is the analysed record for one C translation unit.
type AnalysedC struct {
	Path          Path
	ContentFP     Fingerprint
	Symbols       []string // externally-linked function definitions
	ExternalCalls []string // externally-linked identifiers referenced but not defined
}

func (c *AnalysedC) FilePath() Path           { return c.Path }
func (c *AnalysedC) ContentHash() Fingerprint { return c.ContentFP }
func (c *AnalysedC) ModuleDefs() []string     { return nil }
func (c *AnalysedC) ModuleDeps() []string     { return nil }
func (c *AnalysedC) SymbolDefs() []string     { return c.Symbols }
func (c *AnalysedC) SymbolDeps() []string     { return c.ExternalCalls }
func (c *AnalysedC) FileDeps() []Path         { return nil }
func (c *AnalysedC) Lang() Language           { return LanguageC }

// ParserWorkaround lets a user supply the five analysed-file fields
// directly for a source file the parser cannot handle (spec §4.6, S4).
type ParserWorkaround struct {
	FilePath    Path
	ModuleDefs  []string
	SymbolDefs  []string
	ModuleDeps  []string
	SymbolDeps  []string
}

// BuildTimestamp holds a stable "now" for a single build run. No step
// takes one: housekeeping's older_than cut-off comes from time.Now()
// inside prebuild.Cache.Sweep.
type BuildTimestamp struct {
	At time.Time
}
