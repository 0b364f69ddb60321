// Package store implements the artefact store (spec §4.2): a per-run
// mapping from a closed set of collection names (spec §3) to
// heterogeneous collections of artefacts. Steps communicate only
// through the store — there are no direct channels between them
// (spec §9, "Concurrency primitives").
package store

import (
	"sort"
	"sync"

	buildErrors "github.com/scidev/fab/internal/errors"
)

// Name is one of the closed set of recognised collection names from
// spec §3.
type Name string

const (
	InitialSource      Name = "INITIAL_SOURCE"
	FortranBuildFiles  Name = "FORTRAN_BUILD_FILES"
	CBuildFiles        Name = "C_BUILD_FILES"
	X90BuildFiles      Name = "X90_BUILD_FILES"
	PreprocessedFortran Name = "PREPROCESSED_FORTRAN"
	PreprocessedC      Name = "PREPROCESSED_C"
	// PragmadC is named by spec §3's closed collection enumeration but is
	// not written by any step here: the C-pragma injector it would hold
	// the output of is not wired, since cpp strips the comment markers
	// it would emit before the analyser ever sees them (internal/analyser/c.go's
	// lineMarkerRe comment explains the linemarker substitute actually used).
	PragmadC Name = "PRAGMAD_C"
	SourceGraph        Name = "SOURCE_GRAPH"
	BuildTrees         Name = "BUILD_TREES"
	ObjectFiles        Name = "OBJECT_FILES"
	ObjectArchives     Name = "OBJECT_ARCHIVES"
	Executables        Name = "EXECUTABLES"
)

// Store is the per-run mapping of collection name to collection value.
// It is not concurrent across collections: steps run sequentially at
// the top level (spec §4.2, §5). A step may still parallelise over the
// items of one collection internally via internal/runtime.
type Store struct {
	mu   sync.Mutex
	data map[Name]any
}

// New returns an empty store, scoped to one build run.
func New() *Store {
	return &Store{data: make(map[Name]any)}
}

// Set installs or replaces the value of a collection.
func (s *Store) Set(name Name, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = value
}

// Has reports whether a collection has ever been set.
func (s *Store) Has(name Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[name]
	return ok
}

// Get returns the raw value of a collection, or a MissingCollection
// error if it was never set.
func (s *Store) Get(name Name) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[name]
	if !ok {
		return nil, buildErrors.MissingCollection(string(name))
	}
	return v, nil
}

// Names returns every collection name currently set, sorted, so
// iteration at observable boundaries is deterministic (spec §9).
func (s *Store) Names() []Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]Name, 0, len(s.data))
	for n := range s.data {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// GetPaths is a typed accessor for collections whose value is a
// []string of paths (INITIAL_SOURCE, FORTRAN_BUILD_FILES, ...).
func GetPaths(s *Store, name Name) ([]string, error) {
	v, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	paths, ok := v.([]string)
	if !ok {
		return nil, buildErrors.MissingCollection(string(name))
	}
	return paths, nil
}

// SetPaths sets a collection whose value is a []string of paths,
// sorting first so downstream iteration is deterministic.
func SetPaths(s *Store, name Name, paths []string) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	s.Set(name, sorted)
}
