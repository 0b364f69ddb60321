package graph

import (
	"context"
	"testing"

	"github.com/scidev/fab/internal/store"
	"github.com/scidev/fab/internal/types"
)

func TestStepAutoDiscoversPrograms(t *testing.T) {
	files := []types.AnalysedFile{
		&fakeFile{path: "first.f90", symbolDefs: []string{"first"}, programDefs: []string{"first"}, lang: types.LanguageFortran},
		&fakeFile{path: "second.f90", symbolDefs: []string{"second"}, programDefs: []string{"second"}, lang: types.LanguageFortran},
		&fakeFile{path: "lib.f90", moduleDefs: []string{"util_mod"}, lang: types.LanguageFortran},
	}
	s := store.New()
	s.Set(store.SourceGraph, files)

	step := Step(RootSpec{AutoDiscover: true}, nil)
	if err := step(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	raw, err := s.Get(store.BuildTrees)
	if err != nil {
		t.Fatal(err)
	}
	trees := raw.(map[string]*Graph)
	if _, ok := trees["first"]; !ok {
		t.Fatalf("expected auto-discovery to find root 'first', got %v", trees)
	}
	if _, ok := trees["second"]; !ok {
		t.Fatalf("expected auto-discovery to find root 'second', got %v", trees)
	}
}

func TestStepLibraryModeSentinelRoot(t *testing.T) {
	files := []types.AnalysedFile{
		&fakeFile{path: "a.f90", moduleDefs: []string{"mod_a"}, lang: types.LanguageFortran},
	}
	s := store.New()
	s.Set(store.SourceGraph, files)

	step := Step(RootSpec{Library: true}, nil)
	if err := step(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	raw, _ := s.Get(store.BuildTrees)
	trees := raw.(map[string]*Graph)
	if _, ok := trees[LibraryRoot]; !ok {
		t.Fatalf("expected library mode to key its tree under the sentinel root name, got %v", trees)
	}
}

func TestStepExplicitRootsFailsOnMissingRoot(t *testing.T) {
	files := []types.AnalysedFile{
		&fakeFile{path: "a.f90", symbolDefs: []string{"known"}, lang: types.LanguageFortran},
	}
	s := store.New()
	s.Set(store.SourceGraph, files)

	step := Step(RootSpec{Names: []string{"unknown"}}, nil)
	if err := step(context.Background(), s); err == nil {
		t.Fatalf("expected RootNotFound to propagate from Step")
	}
}

func TestDiscoverRootsCIgnoresNonMain(t *testing.T) {
	files := []types.AnalysedFile{
		&fakeFile{path: "util.c", symbolDefs: []string{"helper"}, lang: types.LanguageC},
		&fakeFile{path: "prog.c", symbolDefs: []string{"main"}, lang: types.LanguageC},
	}
	g, err := Assemble(files, nil)
	if err != nil {
		t.Fatal(err)
	}
	roots := discoverRoots(g)
	if len(roots) != 1 || roots[0] != "main" {
		t.Fatalf("expected only 'main' to be discovered for C, got %v", roots)
	}
}

// TestDiscoverRootsFortranIgnoresNonProgramSymbols guards against
// symbol_defs' PROGRAM/SUBROUTINE/FUNCTION units all being treated as
// executable roots: only PROGRAM units should ever be auto-discovered.
func TestDiscoverRootsFortranIgnoresNonProgramSymbols(t *testing.T) {
	files := []types.AnalysedFile{
		&fakeFile{path: "helpers.f90", symbolDefs: []string{"compute_flux", "apply_bc"}, lang: types.LanguageFortran},
		&fakeFile{path: "main.f90", symbolDefs: []string{"weather_sim"}, programDefs: []string{"weather_sim"}, lang: types.LanguageFortran},
	}
	g, err := Assemble(files, nil)
	if err != nil {
		t.Fatal(err)
	}
	roots := discoverRoots(g)
	if len(roots) != 1 || roots[0] != "weather_sim" {
		t.Fatalf("expected only the PROGRAM unit 'weather_sim' to be discovered, got %v", roots)
	}
}
