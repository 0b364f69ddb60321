// Package graph implements source-graph assembly and the build-tree
// extractor (spec §4.6's "Graph assembly" and §4.7). The per-file
// extraction half of §4.6 lives in internal/analyser; this package
// takes its output — a flat slice of AnalysedFile — and resolves the
// name→file edge set, then prunes reachable subgraphs from declared
// roots.
package graph

import (
	"log"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/types"
)

// Graph is a Path→AnalysedFile map plus its resolved edge set.
//
// ObjectDeps holds each file's "! DEPENDS ON:" pragma targets (spec
// §4.6, §4.9): these name object files produced outside Fortran
// analysis, not nodes in this graph, so they are tracked alongside the
// edge set rather than inside it — adding them as edges would make
// reachableFrom copy a nil AnalysedFile into the subgraph for a path
// that was never analysed.
type Graph struct {
	Files      map[types.Path]types.AnalysedFile
	Edges      map[types.Path][]types.Path
	ObjectDeps map[types.Path][]types.Path
}

// sortedPaths returns g's file paths in sorted order, the iteration
// order every deterministic consumer of the graph must use.
func (g *Graph) sortedPaths() []types.Path {
	paths := make([]types.Path, 0, len(g.Files))
	for p := range g.Files {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// Assemble builds a Graph from the analyser's flat output, in
// path-sorted order (spec §4.6, "Ordering and tie-breaks"). unreferencedDeps
// maps a dependency name a user has promised is real to the path of
// the file that provides it, used when the name cannot be resolved
// against module_defs/symbol_defs (spec §4.6, "Graph assembly").
func Assemble(files []types.AnalysedFile, unreferencedDeps map[string]types.Path) (*Graph, error) {
	sorted := append([]types.AnalysedFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FilePath() < sorted[j].FilePath() })

	moduleOwner := map[string]types.Path{}
	symbolOwner := map[string]types.Path{}

	for _, f := range sorted {
		for _, m := range f.ModuleDefs() {
			key := strings.ToUpper(m)
			if owner, exists := moduleOwner[key]; exists && owner != f.FilePath() {
				return nil, buildErrors.DuplicateDefinition(m, string(owner), string(f.FilePath()))
			}
			moduleOwner[key] = f.FilePath()
		}
		for _, sym := range f.SymbolDefs() {
			key := strings.ToUpper(sym)
			if owner, exists := symbolOwner[key]; exists && owner != f.FilePath() {
				return nil, buildErrors.DuplicateDefinition(sym, string(owner), string(f.FilePath()))
			}
			symbolOwner[key] = f.FilePath()
		}
	}

	g := &Graph{
		Files:      make(map[types.Path]types.AnalysedFile, len(sorted)),
		Edges:      make(map[types.Path][]types.Path, len(sorted)),
		ObjectDeps: make(map[types.Path][]types.Path, len(sorted)),
	}
	for _, f := range sorted {
		g.Files[f.FilePath()] = f
	}

	for _, f := range sorted {
		var edges []types.Path
		seen := map[types.Path]bool{}
		add := func(p types.Path) {
			if p != "" && p != f.FilePath() && !seen[p] {
				seen[p] = true
				edges = append(edges, p)
			}
		}

		for _, m := range f.ModuleDeps() {
			if owner, ok := moduleOwner[strings.ToUpper(m)]; ok {
				add(owner)
			} else if target, ok := unreferencedDeps[m]; ok {
				add(target)
			} else {
				log.Printf("graph: %s: unresolved module dependency %q dropped", f.FilePath(), m)
			}
		}
		for _, sym := range f.SymbolDeps() {
			if owner, ok := symbolOwner[strings.ToUpper(sym)]; ok {
				add(owner)
			} else if target, ok := unreferencedDeps[sym]; ok {
				add(target)
			} else {
				log.Printf("graph: %s: unresolved symbol dependency %q dropped", f.FilePath(), sym)
			}
		}

		sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
		g.Edges[f.FilePath()] = edges

		if deps := f.FileDeps(); len(deps) > 0 {
			objDeps := append([]types.Path(nil), deps...)
			sort.Slice(objDeps, func(i, j int) bool { return objDeps[i] < objDeps[j] })
			g.ObjectDeps[f.FilePath()] = objDeps
		}
	}

	return g, nil
}

// LibraryRoot is the sentinel root name for library-mode build trees,
// whose subgraph is the entire source graph (spec §4.7).
const LibraryRoot = "__library__"

// FindRoot locates the file defining rootName among symbol_defs,
// matching PROGRAM units case-insensitively, or the literal "main" for
// C translation units (spec §3, "Root symbol"). On failure it
// suggests the closest known symbol by Levenshtein distance.
func (g *Graph) FindRoot(rootName string) (types.Path, error) {
	want := strings.ToUpper(rootName)
	var candidates []string

	for _, path := range g.sortedPaths() {
		f := g.Files[path]
		for _, sym := range f.SymbolDefs() {
			candidates = append(candidates, sym)
			if strings.ToUpper(sym) == want {
				return path, nil
			}
		}
	}

	suggestion := suggest(rootName, candidates)
	return "", buildErrors.RootNotFound(rootName, suggestion)
}

// suggest returns the candidate with the highest Levenshtein
// similarity to name, for RootNotFound's "did you mean" hint.
func suggest(name string, candidates []string) string {
	var best string
	var bestScore float32 = -1
	for _, c := range candidates {
		score, err := edlib.StringsSimilarity(name, c, edlib.Levenshtein)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}
