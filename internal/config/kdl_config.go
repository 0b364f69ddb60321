package config

import (
	"fmt"
	"os"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// loadKDL parses a fab.kdl file into a *Config populated only with the
// fields the document sets; callers merge it onto defaults. Grounded
// on the teacher's internal/config/kdl_config.go node-walking style.
func loadKDL(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := kdl.Parse(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg := &Config{}
	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "workspace":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Workspace.Root = v })
			}
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "label", func(v string) { cfg.Project.Label = v })
				if nodeName(cn) == "source_roots" {
					cfg.Project.SourceRoots = collectStringArgs(cn)
				}
			}
		case "tools":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "fpp":
					assignSimpleString(cn, "fpp", func(v string) { cfg.Tools.FPP = v })
				case "fc":
					assignSimpleString(cn, "fc", func(v string) { cfg.Tools.FC = v })
				case "fflags":
					cfg.Tools.FFlags = collectStringArgs(cn)
				case "cc":
					assignSimpleString(cn, "cc", func(v string) { cfg.Tools.CC = v })
				case "cflags":
					cfg.Tools.CFlags = collectStringArgs(cn)
				case "ld":
					assignSimpleString(cn, "ld", func(v string) { cfg.Tools.LD = v })
				case "lflags":
					cfg.Tools.LFlags = collectStringArgs(cn)
				}
			}
		case "analyser":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "root_symbols":
					cfg.Steps.Analyser.RootSymbols = collectStringArgs(cn)
				case "find_programs":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Steps.Analyser.FindPrograms = b
					}
				case "library":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Steps.Analyser.Library = b
					}
				case "unreferenced_deps":
					cfg.Steps.Analyser.UnreferencedDeps = collectStringMap(cn)
				case "parser_workarounds":
					cfg.Steps.Analyser.ParserWorkarounds = collectWorkarounds(cn)
				}
			}
		case "compile":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "two_stage":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Steps.Compile.TwoStage = b
					}
				case "common_flags":
					cfg.Steps.Compile.CommonFlags = collectStringArgs(cn)
				}
			}
		case "link":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "linker":
					assignSimpleString(cn, "linker", func(v string) { cfg.Steps.Link.Linker = v })
				case "flags":
					cfg.Steps.Link.Flags = collectStringArgs(cn)
				}
			}
		case "housekeeping":
			for _, cn := range n.Children {
				if nodeName(cn) == "older_than_seconds" {
					if v, ok := firstIntArg(cn); ok {
						cfg.Steps.Housekeeping.OlderThanSeconds = int64(v)
					}
				}
			}
		}
	}

	return cfg, nil
}

// mergeKDL overlays every non-zero field of loaded onto dst, leaving
// dst's defaults in place where loaded is silent.
func mergeKDL(dst, loaded *Config) {
	if loaded.Workspace.Root != "" {
		dst.Workspace.Root = loaded.Workspace.Root
	}
	if loaded.Project.Label != "" {
		dst.Project.Label = loaded.Project.Label
	}
	if len(loaded.Project.SourceRoots) > 0 {
		dst.Project.SourceRoots = loaded.Project.SourceRoots
	}
	if loaded.Tools.FPP != "" {
		dst.Tools.FPP = loaded.Tools.FPP
	}
	if loaded.Tools.FC != "" {
		dst.Tools.FC = loaded.Tools.FC
	}
	if len(loaded.Tools.FFlags) > 0 {
		dst.Tools.FFlags = loaded.Tools.FFlags
	}
	if loaded.Tools.CC != "" {
		dst.Tools.CC = loaded.Tools.CC
	}
	if len(loaded.Tools.CFlags) > 0 {
		dst.Tools.CFlags = loaded.Tools.CFlags
	}
	if loaded.Tools.LD != "" {
		dst.Tools.LD = loaded.Tools.LD
	}
	if len(loaded.Tools.LFlags) > 0 {
		dst.Tools.LFlags = loaded.Tools.LFlags
	}
	if len(loaded.Steps.Analyser.RootSymbols) > 0 {
		dst.Steps.Analyser.RootSymbols = loaded.Steps.Analyser.RootSymbols
	}
	dst.Steps.Analyser.FindPrograms = loaded.Steps.Analyser.FindPrograms || dst.Steps.Analyser.FindPrograms
	dst.Steps.Analyser.Library = loaded.Steps.Analyser.Library
	if len(loaded.Steps.Analyser.UnreferencedDeps) > 0 {
		dst.Steps.Analyser.UnreferencedDeps = loaded.Steps.Analyser.UnreferencedDeps
	}
	if len(loaded.Steps.Analyser.ParserWorkarounds) > 0 {
		dst.Steps.Analyser.ParserWorkarounds = loaded.Steps.Analyser.ParserWorkarounds
	}
	dst.Steps.Compile.TwoStage = loaded.Steps.Compile.TwoStage
	if len(loaded.Steps.Compile.CommonFlags) > 0 {
		dst.Steps.Compile.CommonFlags = loaded.Steps.Compile.CommonFlags
	}
	if loaded.Steps.Link.Linker != "" {
		dst.Steps.Link.Linker = loaded.Steps.Link.Linker
	}
	if len(loaded.Steps.Link.Flags) > 0 {
		dst.Steps.Link.Flags = loaded.Steps.Link.Flags
	}
	if loaded.Steps.Housekeeping.OlderThanSeconds > 0 {
		dst.Steps.Housekeeping.OlderThanSeconds = loaded.Steps.Housekeeping.OlderThanSeconds
	}
}

// Helper functions leveraging kdl-go's document model, following the
// teacher's own helper set.
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// collectStringArgs reads either inline arguments (fflags "-O2" "-g")
// or block-form children (fflags { "-O2"; "-g" }).
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// collectStringMap reads a node's children as key/value pairs — each
// child's node name is the key, its first argument the value — for
// configuration surfaces that need a name->path mapping rather than a
// flat list (spec §4.6, §6 unreferenced_deps: "dependency-name ->
// providing-file-path"). Example KDL form:
//
//	unreferenced_deps {
//	    legacy_helper "src/legacy/helper.f90"
//	}
func collectStringMap(n *document.Node) map[string]string {
	if n == nil || len(n.Children) == 0 {
		return nil
	}
	out := make(map[string]string, len(n.Children))
	for _, child := range n.Children {
		key := nodeName(child)
		if key == "" {
			continue
		}
		if v, ok := firstStringArg(child); ok {
			out[key] = v
		}
	}
	return out
}

// collectWorkarounds reads a parser_workarounds block's children as
// repeated "workaround" entries, each carrying the five
// ParserWorkaround fields (spec §4.6, §6
// special_measure_analysis_results; scenario S4). Example KDL form:
//
//	parser_workarounds {
//	    workaround {
//	        path "src/legacy/file.f90"
//	        module_defs "my_mod"
//	        symbol_defs "my_func"
//	        module_deps "other_mod"
//	        symbol_deps "other_func"
//	    }
//	}
func collectWorkarounds(n *document.Node) []ParserWorkaroundSpec {
	if n == nil || len(n.Children) == 0 {
		return nil
	}
	var out []ParserWorkaroundSpec
	for _, entry := range n.Children {
		if nodeName(entry) != "workaround" {
			continue
		}
		var wa ParserWorkaroundSpec
		for _, field := range entry.Children {
			switch nodeName(field) {
			case "path":
				if s, ok := firstStringArg(field); ok {
					wa.FilePath = s
				}
			case "module_defs":
				wa.ModuleDefs = collectStringArgs(field)
			case "symbol_defs":
				wa.SymbolDefs = collectStringArgs(field)
			case "module_deps":
				wa.ModuleDeps = collectStringArgs(field)
			case "symbol_deps":
				wa.SymbolDeps = collectStringArgs(field)
			}
		}
		out = append(out, wa)
	}
	return out
}
