// Package analyser implements the source analyser (spec §4.6): Fortran
// and C extraction of module/symbol definitions and dependencies, and
// the whole-project graph assembly that consumes both. Fortran is
// parsed line-by-line with regexp, grounded on the teacher's
// regex-driven extractors (internal/semantic/vocabulary_analyzer.go,
// internal/mcp/validation.go); no Fortran tree-sitter grammar exists
// in the retrieved pack, so unlike C this is not AST-based.
package analyser

import (
	"regexp"
	"strings"

	"github.com/scidev/fab/internal/types"
)

var (
	moduleDefRe     = regexp.MustCompile(`(?i)^\s*MODULE\s+(\w+)\s*$`)
	submoduleDefRe  = regexp.MustCompile(`(?i)^\s*SUBMODULE\s*\(\s*(\w+)\s*(?::\s*\w+\s*)?\)\s+(\w+)`)
	programDefRe    = regexp.MustCompile(`(?i)^\s*PROGRAM\s+(\w+)`)
	subroutineDefRe = regexp.MustCompile(`(?i)^\s*(?:RECURSIVE\s+)?SUBROUTINE\s+(\w+)`)
	functionDefRe   = regexp.MustCompile(`(?i)^\s*(?:[\w()*]+\s+)*?(?:RECURSIVE\s+)?FUNCTION\s+(\w+)\s*\(`)
	useRe           = regexp.MustCompile(`(?i)^\s*USE(?:\s*,\s*\w+\s*(?:::)?)?\s*(?:::)?\s*(\w+)`)
	callRe          = regexp.MustCompile(`(?i)^\s*CALL\s+(\w+)`)
	endRe           = regexp.MustCompile(`(?i)^\s*END\s*(?:(?:MODULE|SUBMODULE|SUBROUTINE|FUNCTION|PROGRAM)\b|\s*(?:!.*)?$)`)
	dependsOnRe     = regexp.MustCompile(`^\s*!\s*DEPENDS ON:\s*(.+)$`)
)

// DefaultIntrinsicModules are recognised regardless of configuration
// (spec §4.6: "recognised by a configurable set of names"); the
// configured set extends this one.
var DefaultIntrinsicModules = map[string]bool{
	"ISO_C_BINDING":     true,
	"ISO_FORTRAN_ENV":   true,
	"IEEE_ARITHMETIC":   true,
	"IEEE_EXCEPTIONS":   true,
	"IEEE_FEATURES":     true,
	"OMP_LIB":           true,
	"MPI":               true,
}

// FortranExtractor parses Fortran source with the line-oriented rules
// of spec §4.6. Extra, configured intrinsic module names merge with
// DefaultIntrinsicModules.
type FortranExtractor struct {
	Intrinsics map[string]bool
}

// NewFortranExtractor returns an extractor whose intrinsic table is
// DefaultIntrinsicModules plus any configured extra names.
func NewFortranExtractor(extra []string) *FortranExtractor {
	table := make(map[string]bool, len(DefaultIntrinsicModules)+len(extra))
	for k := range DefaultIntrinsicModules {
		table[k] = true
	}
	for _, n := range extra {
		table[strings.ToUpper(n)] = true
	}
	return &FortranExtractor{Intrinsics: table}
}

func (e *FortranExtractor) isIntrinsic(name string) bool {
	return e.Intrinsics[strings.ToUpper(name)]
}

// Extract parses source, already preprocessed so continuation lines
// and #if directives are resolved (spec §4.6), into an AnalysedFortran
// record. fp is the post-preprocess content fingerprint, computed by
// the caller so this function stays pure over text.
func (e *FortranExtractor) Extract(path types.Path, source string, fp types.Fingerprint) *types.AnalysedFortran {
	rec := &types.AnalysedFortran{Path: path, ContentFP: fp}

	// moduleDepthAt records the depth at which the enclosing
	// MODULE/SUBMODULE block opened (-1 outside one), so contained SUBROUTINE/FUNCTION
	// definitions are excluded from symbol_defs per spec §4.6.
	depth := 0
	moduleDepthAt := -1

	seenModules := map[string]bool{}
	seenSymbols := map[string]bool{}
	seenUses := map[string]bool{}
	seenCalls := map[string]bool{}
	seenDeps := map[string]bool{}

	lines := strings.Split(source, "\n")
	for _, raw := range lines {
		line := raw

		if m := dependsOnRe.FindStringSubmatch(line); m != nil {
			for _, dep := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
				dep = strings.TrimSpace(dep)
				if dep != "" && !seenDeps[dep] {
					seenDeps[dep] = true
					rec.ObjectFileDeps = append(rec.ObjectFileDeps, types.Path(dep))
				}
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "!") || trimmed == "" {
			continue
		}

		if m := moduleDefRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			if !seenModules[name] {
				seenModules[name] = true
				rec.Modules = append(rec.Modules, name)
			}
			depth++
			moduleDepthAt = depth
			continue
		}
		if m := submoduleDefRe.FindStringSubmatch(line); m != nil {
			parent := m[1]
			if !seenModules[parent] {
				seenModules[parent] = true
				rec.Modules = append(rec.Modules, parent)
			}
			depth++
			moduleDepthAt = depth
			continue
		}
		if m := programDefRe.FindStringSubmatch(line); m != nil {
			if addSymbol(rec, seenSymbols, m[1], depth, moduleDepthAt) {
				rec.Programs = append(rec.Programs, m[1])
			}
			depth++
			continue
		}
		if m := subroutineDefRe.FindStringSubmatch(line); m != nil {
			addSymbol(rec, seenSymbols, m[1], depth, moduleDepthAt)
			depth++
			continue
		}
		if m := functionDefRe.FindStringSubmatch(line); m != nil {
			addSymbol(rec, seenSymbols, m[1], depth, moduleDepthAt)
			depth++
			continue
		}
		if endRe.MatchString(line) {
			if depth == moduleDepthAt {
				moduleDepthAt = -1
			}
			if depth > 0 {
				depth--
			}
			continue
		}
		if m := useRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			if !e.isIntrinsic(name) && !seenUses[strings.ToUpper(name)] {
				seenUses[strings.ToUpper(name)] = true
				rec.UsedModules = append(rec.UsedModules, name)
			}
			continue
		}
		if m := callRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			if !seenCalls[strings.ToUpper(name)] {
				seenCalls[strings.ToUpper(name)] = true
				rec.CalledSymbols = append(rec.CalledSymbols, name)
			}
			continue
		}
	}

	return rec
}

// addSymbol records name in symbol_defs, reporting whether it did so
// (false when contained in a MODULE block or already seen), so callers
// that track a subset of symbol_defs — e.g. Programs, for PROGRAM
// units — only append when the symbol itself was newly added.
func addSymbol(rec *types.AnalysedFortran, seen map[string]bool, name string, depth, moduleDepthAt int) bool {
	if moduleDepthAt != -1 && depth >= moduleDepthAt {
		// contained within a MODULE block: reached via the module, not
		// added to symbol_defs (spec §4.6).
		return false
	}
	key := strings.ToUpper(name)
	if seen[key] {
		return false
	}
	seen[key] = true
	rec.Symbols = append(rec.Symbols, name)
	return true
}
