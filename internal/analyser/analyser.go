package analyser

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/fingerprint"
	"github.com/scidev/fab/internal/prebuild"
	"github.com/scidev/fab/internal/runtime"
	"github.com/scidev/fab/internal/store"
	"github.com/scidev/fab/internal/types"
)

// record is the on-disk shape of a ".an" prebuild entry: a tagged copy
// of either AnalysedFortran or AnalysedC, since types.AnalysedFile
// itself carries no exported fields to marshal generically.
type record struct {
	Lang    types.Language
	Fortran *types.AnalysedFortran `json:",omitempty"`
	C       *types.AnalysedC       `json:",omitempty"`
}

func (r record) file() types.AnalysedFile {
	if r.Lang == types.LanguageC {
		return r.C
	}
	return r.Fortran
}

// Driver runs the source analyser (spec §4.6) over
// FORTRAN_BUILD_FILES ∪ C_BUILD_FILES.
type Driver struct {
	Cache       *prebuild.Cache
	Fortran     *FortranExtractor
	C           *CExtractor
	BuildOutput string

	// Workarounds supplies ParserWorkaround records for files the
	// parser cannot handle, keyed by path.
	Workarounds map[types.Path]types.ParserWorkaround
}

func (d *Driver) analyseOne(ctx context.Context, path string, lang types.Language) (types.AnalysedFile, error) {
	if wa, ok := d.Workarounds[types.Path(path)]; ok {
		return workaroundToAnalysed(wa, lang), nil
	}

	contentFP, err := fingerprint.FileFingerprint(types.Path(path))
	if err != nil {
		return nil, buildErrors.IO(path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	key := prebuild.Key{Stem: stem, Hash: contentFP, Suffix: types.SuffixAnalysis}

	anPath := filepath.Join(d.BuildOutput, key.FileName())
	if _, ok := d.Cache.Lookup(key); ok {
		if err := d.Cache.Recover(key, types.Path(anPath)); err != nil {
			return nil, err
		}
		return loadRecord(anPath)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, buildErrors.IO(path, err)
	}

	var rec record
	switch lang {
	case types.LanguageFortran:
		rec = record{Lang: lang, Fortran: d.Fortran.Extract(types.Path(path), string(source), contentFP)}
	case types.LanguageC:
		an, extractErr := d.C.Extract(types.Path(path), string(source), contentFP)
		if extractErr != nil {
			return nil, buildErrors.Parse(path, extractErr)
		}
		rec = record{Lang: lang, C: an}
	}

	if err := storeRecord(anPath, rec); err != nil {
		return nil, err
	}
	if err := d.Cache.Store(types.Path(anPath), key); err != nil {
		return nil, err
	}
	return rec.file(), nil
}

func loadRecord(path string) (types.AnalysedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, buildErrors.IO(path, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, buildErrors.Parse(path, err)
	}
	return rec.file(), nil
}

func storeRecord(path string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return buildErrors.IO(path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return buildErrors.IO(path, err)
	}
	return nil
}

func workaroundToAnalysed(wa types.ParserWorkaround, lang types.Language) types.AnalysedFile {
	if lang == types.LanguageC {
		return &types.AnalysedC{Path: wa.FilePath, Symbols: wa.SymbolDefs, ExternalCalls: wa.SymbolDeps}
	}
	return &types.AnalysedFortran{
		Path:          wa.FilePath,
		Modules:       wa.ModuleDefs,
		Symbols:       wa.SymbolDefs,
		UsedModules:   wa.ModuleDeps,
		CalledSymbols: wa.SymbolDeps,
	}
}

// Step runs the analyser over both build-file collections and
// publishes SOURCE_GRAPH, the analysed-file list every downstream
// step (build-tree extractor, compile scheduler) reads from.
func Step(d *Driver) func(ctx context.Context, s *store.Store) error {
	return func(ctx context.Context, s *store.Store) error {
		fortranPaths, err := store.GetPaths(s, store.FortranBuildFiles)
		if err != nil {
			return err
		}
		cPaths, err := store.GetPaths(s, store.CBuildFiles)
		if err != nil {
			return err
		}

		type item struct {
			path string
			lang types.Language
		}
		items := make([]item, 0, len(fortranPaths)+len(cPaths))
		for _, p := range fortranPaths {
			items = append(items, item{p, types.LanguageFortran})
		}
		for _, p := range cPaths {
			items = append(items, item{p, types.LanguageC})
		}

		files, err := runtime.RunMP(ctx, "analyser", items, func(ctx context.Context, it item) (types.AnalysedFile, error) {
			return d.analyseOne(ctx, it.path, it.lang)
		})
		if err != nil {
			return err
		}

		s.Set(store.SourceGraph, files)
		return nil
	}
}
