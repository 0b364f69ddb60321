// Package link implements the archiver/linker driver (spec §4.9):
// gathering OBJECT_FILES per root, optionally archiving them, and
// invoking the linker to produce EXECUTABLES.
package link

import (
	"context"
	"path/filepath"
	"sort"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/preprocess"
	"github.com/scidev/fab/internal/runtime"
	"github.com/scidev/fab/internal/store"
)

// Driver gathers object sets and invokes an archiver and/or linker.
type Driver struct {
	Runner      preprocess.Runner
	BuildOutput string

	Archiver     string // e.g. "ar"; empty means "skip archiving"
	ArchiveFlags []string

	Linker string // e.g. "gfortran" or "ld"
	Flags  []string
}

// ArchiveStep invokes the archiver over each OBJECT_FILES[root],
// producing one archive per root into OBJECT_ARCHIVES (spec §4.9).
// Archiver member order follows the path-sorted OBJECT_FILES entries
// so archive contents are reproducible (spec §9, "Determinism").
func ArchiveStep(d *Driver) func(ctx context.Context, s *store.Store) error {
	return func(ctx context.Context, s *store.Store) error {
		if d.Archiver == "" {
			return nil
		}
		raw, err := s.Get(store.ObjectFiles)
		if err != nil {
			return err
		}
		objectFiles, ok := raw.(map[string][]string)
		if !ok {
			return buildErrors.MissingCollection(string(store.ObjectFiles))
		}

		roots := runtime.SortedKeys(objectFiles)
		archives, err := runtime.RunMP(ctx, "archive", roots, func(ctx context.Context, root string) (string, error) {
			objects := append([]string(nil), objectFiles[root]...)
			sort.Strings(objects)

			archivePath := filepath.Join(d.BuildOutput, "lib"+root+".a")
			args := append(append([]string(nil), d.ArchiveFlags...), archivePath)
			args = append(args, objects...)

			stderr, err := d.Runner.Run(ctx, d.Archiver, args)
			if err != nil {
				return "", buildErrors.ToolFailure("archive", root, stderr)
			}
			return archivePath, nil
		})
		if err != nil {
			return err
		}

		archiveMap := make(map[string]string, len(roots))
		for i, root := range roots {
			archiveMap[root] = archives[i]
		}
		s.Set(store.ObjectArchives, archiveMap)
		return nil
	}
}

// LinkStep reads OBJECT_ARCHIVES if non-empty, else OBJECT_FILES,
// invokes the configured linker, and emits one executable per root
// into EXECUTABLES (spec §4.9).
func LinkStep(d *Driver) func(ctx context.Context, s *store.Store) error {
	return func(ctx context.Context, s *store.Store) error {
		archiveMap, _ := storeGetArchives(s)
		objectFiles, err := storeGetObjects(s)
		if err != nil {
			return err
		}

		var roots []string
		if len(archiveMap) > 0 {
			roots = runtime.SortedKeys(archiveMap)
		} else {
			roots = runtime.SortedKeys(objectFiles)
		}

		type outcome struct {
			exePath string
			err     error
		}
		results, _ := runtime.RunMP(ctx, "link", roots, func(ctx context.Context, root string) (outcome, error) {
			var inputs []string
			if archivePath, ok := archiveMap[root]; ok {
				inputs = []string{archivePath}
			} else {
				inputs = append([]string(nil), objectFiles[root]...)
				sort.Strings(inputs)
			}

			exePath := filepath.Join(d.BuildOutput, "..", root)
			args := append(append([]string(nil), inputs...), d.Flags...)
			args = append(args, "-o", exePath)

			stderr, err := d.Runner.Run(ctx, d.Linker, args)
			if err != nil {
				return outcome{err: buildErrors.LinkFailed(root, stderr)}, nil
			}
			return outcome{exePath: exePath}, nil
		})

		var executables []string
		var failures []error
		for _, r := range results {
			if r.err != nil {
				failures = append(failures, r.err)
				continue
			}
			executables = append(executables, r.exePath)
		}
		sort.Strings(executables)
		s.Set(store.Executables, executables)
		if agg := buildErrors.NewAggregate("link", failures); agg != nil {
			return agg
		}
		return nil
	}
}

func storeGetArchives(s *store.Store) (map[string]string, error) {
	raw, err := s.Get(store.ObjectArchives)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]string)
	if !ok {
		return nil, buildErrors.MissingCollection(string(store.ObjectArchives))
	}
	return m, nil
}

func storeGetObjects(s *store.Store) (map[string][]string, error) {
	raw, err := s.Get(store.ObjectFiles)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string][]string)
	if !ok {
		return nil, buildErrors.MissingCollection(string(store.ObjectFiles))
	}
	return m, nil
}
