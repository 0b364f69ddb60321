package analyser

import (
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"

	"github.com/scidev/fab/internal/types"
)

// lineMarkerRe matches a GNU cpp linemarker, e.g. `# 12 "foo.h" 1 3`. The
// optional trailing flags list carries `3` when the included file is a
// system header (cpp -isystem behaviour). The C preprocessing step
// deliberately omits `-P` so these markers survive into the analysed
// stream, letting the extractor recover include provenance straight
// from cpp's own output instead of a side-channel annotation pass: a
// comment-based "user-include"/"system-include" marker written before
// preprocessing would be stripped by cpp's comment handling before the
// analyser ever saw it, so the linemarker cpp already emits is the only
// signal that survives.
var lineMarkerRe = regexp.MustCompile(`^#\s*(\d+)\s+"([^"]*)"((?:\s+\d+)*)\s*$`)

// CExtractor parses preprocessed C source with tree-sitter-cpp. There
// is no standalone C grammar in the retrieved pack; the C++ grammar is
// a superset for the constructs this analyser cares about
// (function_definition, call_expression, storage class specifiers),
// so it is used as a deliberate substitute.
type CExtractor struct{}

// NewCExtractor returns a ready CExtractor.
func NewCExtractor() *CExtractor { return &CExtractor{} }

// systemSpan is a half-open byte range copied from a system header by
// the preprocessor, to be excluded from extraction (spec §4.6:
// "System-include regions are skipped").
type systemSpan struct{ start, end int }

// Extract parses preprocessed C source into an AnalysedC record.
func (e *CExtractor) Extract(path types.Path, source string, fp types.Fingerprint) (*types.AnalysedC, error) {
	spans := systemSpans(source)

	parser := sitter.NewParser()
	defer parser.Close()
	language := sitter.NewLanguage(tree_sitter_cpp.Language())
	if err := parser.SetLanguage(language); err != nil {
		return nil, err
	}

	buf := []byte(source)
	tree := parser.Parse(buf, nil)
	if tree == nil {
		return nil, errParse(path)
	}
	defer tree.Close()

	rec := &types.AnalysedC{Path: path, ContentFP: fp}
	defined := map[string]bool{}
	seenCalls := map[string]bool{}

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || inSystemSpan(spans, int(n.StartByte())) {
			return
		}
		switch n.Kind() {
		case "function_definition":
			if name, ok := functionName(n, buf); ok && !isStatic(n, buf) {
				if !defined[name] {
					defined[name] = true
					rec.Symbols = append(rec.Symbols, name)
				}
			}
		case "call_expression":
			if fn := n.ChildByFieldName("function"); fn != nil && fn.Kind() == "identifier" {
				name := fn.Utf8Text(buf)
				if !seenCalls[name] {
					seenCalls[name] = true
					rec.ExternalCalls = append(rec.ExternalCalls, name)
				}
			}
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())

	// symbol_deps excludes locally defined functions (spec §4.6:
	// "externally-linked identifier referenced but not defined").
	deps := rec.ExternalCalls[:0]
	for _, name := range rec.ExternalCalls {
		if !defined[name] {
			deps = append(deps, name)
		}
	}
	rec.ExternalCalls = deps

	return rec, nil
}

func functionName(fnDef *sitter.Node, src []byte) (string, bool) {
	declarator := fnDef.ChildByFieldName("declarator")
	for declarator != nil && declarator.Kind() != "function_declarator" {
		inner := declarator.ChildByFieldName("declarator")
		if inner == nil {
			break
		}
		declarator = inner
	}
	if declarator == nil {
		return "", false
	}
	ident := declarator.ChildByFieldName("declarator")
	if ident == nil {
		return "", false
	}
	return ident.Utf8Text(src), true
}

func isStatic(fnDef *sitter.Node, src []byte) bool {
	for i := uint(0); i < fnDef.ChildCount(); i++ {
		child := fnDef.Child(i)
		if child != nil && child.Kind() == "storage_class_specifier" && child.Utf8Text(src) == "static" {
			return true
		}
	}
	return false
}

// systemSpans scans for linemarkers and returns the byte ranges they
// bracket that originated in a system header (flag 3).
func systemSpans(source string) []systemSpan {
	var spans []systemSpan
	inSystem := false
	spanStart := 0
	offset := 0

	for _, line := range strings.SplitAfter(source, "\n") {
		m := lineMarkerRe.FindStringSubmatch(strings.TrimRight(line, "\n"))
		if m != nil {
			flags := strings.Fields(m[3])
			nowSystem := false
			for _, f := range flags {
				if f == "3" {
					nowSystem = true
				}
			}
			if inSystem && !nowSystem {
				spans = append(spans, systemSpan{spanStart, offset})
			}
			if !inSystem && nowSystem {
				spanStart = offset
			}
			inSystem = nowSystem
		}
		offset += len(line)
	}
	if inSystem {
		spans = append(spans, systemSpan{spanStart, offset})
	}
	return spans
}

func inSystemSpan(spans []systemSpan, pos int) bool {
	for _, s := range spans {
		if pos >= s.start && pos < s.end {
			return true
		}
	}
	return false
}

func errParse(path types.Path) error {
	return &parseError{path: path}
}

type parseError struct{ path types.Path }

func (e *parseError) Error() string { return "tree-sitter returned a nil tree for " + string(e.path) }
