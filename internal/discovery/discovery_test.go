package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/scidev/fab/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverClassifiesByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "upper.F90"), "PROGRAM p\nEND PROGRAM\n")
	writeFile(t, filepath.Join(root, "lower.f90"), "MODULE m\nEND MODULE\n")
	writeFile(t, filepath.Join(root, "src.c"), "int main(){return 0;}\n")
	writeFile(t, filepath.Join(root, "gen.x90"), "! x90 kernel input\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored\n")

	s := NewScanner(nil)
	initial, fortran, c, x90, err := s.Discover([]string{root})
	if err != nil {
		t.Fatal(err)
	}

	if len(initial) != 5 {
		t.Fatalf("expected INITIAL_SOURCE to hold every discovered file regardless of classification, got %d: %v", len(initial), initial)
	}
	if len(fortran) != 2 {
		t.Fatalf("expected 2 Fortran files, got %d: %v", len(fortran), fortran)
	}
	if len(c) != 1 {
		t.Fatalf("expected 1 C file, got %d: %v", len(c), c)
	}
	if len(x90) != 1 {
		t.Fatalf("expected 1 x90 file, got %d: %v", len(x90), x90)
	}
}

func TestDiscoverExcludesGlob(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.f90"), "MODULE keep\nEND MODULE\n")
	writeFile(t, filepath.Join(root, "vendor", "skip.f90"), "MODULE skip\nEND MODULE\n")

	s := NewScanner([]string{"vendor/**"})
	_, fortran, _, _, err := s.Discover([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if len(fortran) != 1 {
		t.Fatalf("expected excluded vendor/ subtree to be skipped, got %v", fortran)
	}
}

func TestStepPopulatesCollections(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.f90"), "PROGRAM a\nEND PROGRAM\n")
	writeFile(t, filepath.Join(root, "b.c"), "int main(){return 0;}\n")

	s := store.New()
	step := Step(NewScanner(nil), []string{root})
	if err := step(s); err != nil {
		t.Fatal(err)
	}

	initial, err := store.GetPaths(s, store.InitialSource)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(initial)
	if len(initial) != 2 {
		t.Fatalf("expected INITIAL_SOURCE to hold both files, got %v", initial)
	}

	fortran, err := store.GetPaths(s, store.FortranBuildFiles)
	if err != nil || len(fortran) != 1 {
		t.Fatalf("expected FORTRAN_BUILD_FILES to hold a.f90, got %v err=%v", fortran, err)
	}
	cFiles, err := store.GetPaths(s, store.CBuildFiles)
	if err != nil || len(cFiles) != 1 {
		t.Fatalf("expected C_BUILD_FILES to hold b.c, got %v err=%v", cFiles, err)
	}
}
