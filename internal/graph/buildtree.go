package graph

import (
	"context"
	"sort"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/store"
	"github.com/scidev/fab/internal/types"
)

// Extract computes the subgraph reachable from rootName's defining
// file via breadth-first traversal of the edge set (spec §4.7).
func (g *Graph) Extract(rootName string) (*Graph, error) {
	root, err := g.FindRoot(rootName)
	if err != nil {
		return nil, err
	}
	return g.reachableFrom([]types.Path{root})
}

// Library returns the whole graph, keyed under LibraryRoot (spec §4.7:
// "library builds use a single tree containing every node").
func (g *Graph) Library() *Graph {
	return g
}

func (g *Graph) reachableFrom(starts []types.Path) (*Graph, error) {
	visited := map[types.Path]bool{}
	queue := append([]types.Path(nil), starts...)
	for _, s := range starts {
		visited[s] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Edges[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	sub := &Graph{
		Files:      make(map[types.Path]types.AnalysedFile, len(visited)),
		Edges:      make(map[types.Path][]types.Path, len(visited)),
		ObjectDeps: make(map[types.Path][]types.Path, len(visited)),
	}
	for p := range visited {
		sub.Files[p] = g.Files[p]
		sub.Edges[p] = g.Edges[p]
		if deps, ok := g.ObjectDeps[p]; ok {
			sub.ObjectDeps[p] = deps
		}
	}

	if cycle := findCycle(sub); cycle != nil {
		return nil, buildErrors.CycleDetected(pathsToStrings(cycle))
	}
	return sub, nil
}

// findCycle reports a strongly connected component of more than one
// file via Tarjan's algorithm (spec §4.7: "self-edges from intra-file
// USE are ignored").
func findCycle(g *Graph) []types.Path {
	index := 0
	indices := map[types.Path]int{}
	lowlink := map[types.Path]int{}
	onStack := map[types.Path]bool{}
	var stack []types.Path
	var found []types.Path

	paths := g.sortedPaths()

	var strongconnect func(v types.Path)
	strongconnect = func(v types.Path) {
		if found != nil {
			return
		}
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Edges[v] {
			if w == v {
				continue // self-edge, ignored
			}
			if _, ok := indices[w]; !ok {
				strongconnect(w)
				if found != nil {
					return
				}
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var component []types.Path
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			if len(component) > 1 {
				sort.Slice(component, func(i, j int) bool { return component[i] < component[j] })
				found = component
			}
		}
	}

	for _, p := range paths {
		if found != nil {
			break
		}
		if _, ok := indices[p]; !ok {
			strongconnect(p)
		}
	}
	return found
}

// PragmaObjectDeps returns the deduplicated, sorted set of "! DEPENDS
// ON:" object paths across every file in g, for OBJECT_FILES[root]'s
// extra entries (spec §4.6, §4.9: "plus pragma DEPENDS ON objects").
func (g *Graph) PragmaObjectDeps() []string {
	seen := map[types.Path]bool{}
	var out []string
	for _, p := range g.sortedPaths() {
		for _, dep := range g.ObjectDeps[p] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, string(dep))
			}
		}
	}
	sort.Strings(out)
	return out
}

func pathsToStrings(paths []types.Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = string(p)
	}
	return out
}

// RootSpec describes how a build declares its roots (spec §3, "Root
// symbol"): explicit names, automatic discovery of every PROGRAM/main,
// or library mode.
type RootSpec struct {
	Names        []string
	AutoDiscover bool
	Library      bool
}

// discoverRoots scans every analysed file for PROGRAM units (Fortran)
// or "main" (C), used when RootSpec.AutoDiscover is set and no
// explicit roots are given. Fortran's symbol_defs also holds
// top-level SUBROUTINE/FUNCTION units (spec §4.6), which are not
// executable roots, so Fortran files are scanned against
// ProgramDefs(), the analysed file's own PROGRAM-only subset, rather
// than SymbolDefs().
func discoverRoots(g *Graph) []string {
	var roots []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			roots = append(roots, name)
		}
	}
	for _, p := range g.sortedPaths() {
		f := g.Files[p]
		switch f.Lang() {
		case types.LanguageC:
			for _, sym := range f.SymbolDefs() {
				if sym == "main" {
					add(sym)
				}
			}
		case types.LanguageFortran:
			if pd, ok := f.(types.ProgramDefiner); ok {
				for _, name := range pd.ProgramDefs() {
					add(name)
				}
			}
		}
	}
	return roots
}

// Step runs graph assembly then build-tree extraction, publishing the
// resolved Graph back into SOURCE_GRAPH and the per-root subgraphs
// into BUILD_TREES (spec §4.6, §4.7).
func Step(spec RootSpec, unreferencedDeps map[string]types.Path) func(ctx context.Context, s *store.Store) error {
	return func(ctx context.Context, s *store.Store) error {
		raw, err := s.Get(store.SourceGraph)
		if err != nil {
			return err
		}
		files, ok := raw.([]types.AnalysedFile)
		if !ok {
			return buildErrors.MissingCollection(string(store.SourceGraph))
		}

		g, err := Assemble(files, unreferencedDeps)
		if err != nil {
			return err
		}
		s.Set(store.SourceGraph, g)

		trees := map[string]*Graph{}
		if spec.Library {
			trees[LibraryRoot] = g.Library()
			s.Set(store.BuildTrees, trees)
			return nil
		}

		names := spec.Names
		if spec.AutoDiscover {
			names = discoverRoots(g)
		}
		for _, name := range names {
			tree, err := g.Extract(name)
			if err != nil {
				return err
			}
			trees[name] = tree
		}
		s.Set(store.BuildTrees, trees)
		return nil
	}
}
