// Package discovery implements source discovery / copy-in (spec §2.5):
// it walks the configured source roots, classifies each file by
// extension into the language-specific build-file collections, and
// populates INITIAL_SOURCE. Directory walking and glob-based
// exclusion follow the teacher's
// internal/indexing/pipeline.go/pipeline_scanner.go FileScanner.
package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/store"
)

// Scanner walks a set of source roots and classifies files.
type Scanner struct {
	Exclude []string // doublestar glob patterns, relative to each root
}

// NewScanner returns a Scanner with the given exclusion globs.
func NewScanner(exclude []string) *Scanner {
	return &Scanner{Exclude: exclude}
}

// fileClass is the extension-driven classification spec §3 describes:
// fixed-form/free-form Fortran, C, and code-generation inputs.
type fileClass int

const (
	classNone fileClass = iota
	classFortranUpper
	classFortranLower
	classC
	classX90
)

func classify(path string) fileClass {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".f90", ".f", ".f77", ".for":
		if strings.HasSuffix(path, ".F90") || strings.HasSuffix(path, ".F") {
			return classFortranUpper
		}
		return classFortranLower
	case ".c":
		return classC
	case ".x90":
		return classX90
	default:
		return classNone
	}
}

// Discover walks every root, skipping excluded paths, and returns the
// absolute paths bucketed by class.
func (s *Scanner) Discover(roots []string) (initial, fortran, c, x90 []string, err error) {
	for _, root := range roots {
		absRoot, absErr := filepath.Abs(root)
		if absErr != nil {
			return nil, nil, nil, nil, buildErrors.IO(root, absErr)
		}
		walkErr := filepath.Walk(absRoot, func(path string, info os.FileInfo, werr error) error {
			if werr != nil {
				return nil // continue despite a single unreadable entry
			}
			rel, relErr := filepath.Rel(absRoot, path)
			if relErr != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)

			if info.IsDir() {
				if s.excluded(rel + "/") {
					return filepath.SkipDir
				}
				return nil
			}
			if s.excluded(rel) {
				return nil
			}

			initial = append(initial, path)
			switch classify(path) {
			case classFortranUpper, classFortranLower:
				fortran = append(fortran, path)
			case classC:
				c = append(c, path)
			case classX90:
				x90 = append(x90, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, nil, nil, nil, buildErrors.IO(absRoot, walkErr)
		}
	}
	return initial, fortran, c, x90, nil
}

func (s *Scanner) excluded(relPath string) bool {
	for _, pattern := range s.Exclude {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}

// Step populates INITIAL_SOURCE, FORTRAN_BUILD_FILES, C_BUILD_FILES,
// and X90_BUILD_FILES from the given source roots.
func Step(scanner *Scanner, roots []string) func(s *store.Store) error {
	return func(s *store.Store) error {
		initial, fortran, c, x90, err := scanner.Discover(roots)
		if err != nil {
			return err
		}
		store.SetPaths(s, store.InitialSource, initial)
		store.SetPaths(s, store.FortranBuildFiles, fortran)
		store.SetPaths(s, store.CBuildFiles, c)
		store.SetPaths(s, store.X90BuildFiles, x90)
		return nil
	}
}
