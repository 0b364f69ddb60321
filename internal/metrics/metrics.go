// Package metrics collects per-step counters for one build run and
// flushes them to metrics/summary.toml at scope exit, using
// github.com/pelletier/go-toml/v2, grounded on the teacher's
// lock-free atomic-counter idiom (internal/cache/metrics_cache.go)
// but scoped to one run rather than a long-lived process cache.
package metrics

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pelletier/go-toml/v2"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/prebuild"
)

// Collector accumulates atomic counters across every step of one run.
type Collector struct {
	filesDiscovered   int64
	filesPreprocessed int64
	filesAnalysed     int64
	objectsCompiled   int64
	compileFailures   int64
	archivesBuilt     int64
	executablesBuilt  int64
}

func (c *Collector) AddDiscovered(n int)      { atomic.AddInt64(&c.filesDiscovered, int64(n)) }
func (c *Collector) AddPreprocessed(n int)    { atomic.AddInt64(&c.filesPreprocessed, int64(n)) }
func (c *Collector) AddAnalysed(n int)        { atomic.AddInt64(&c.filesAnalysed, int64(n)) }
func (c *Collector) AddCompiled(n int)        { atomic.AddInt64(&c.objectsCompiled, int64(n)) }
func (c *Collector) AddCompileFailures(n int) { atomic.AddInt64(&c.compileFailures, int64(n)) }
func (c *Collector) AddArchives(n int)        { atomic.AddInt64(&c.archivesBuilt, int64(n)) }
func (c *Collector) AddExecutables(n int)     { atomic.AddInt64(&c.executablesBuilt, int64(n)) }

// Summary is the flushed document shape.
type Summary struct {
	FilesDiscovered   int64         `toml:"files_discovered"`
	FilesPreprocessed int64         `toml:"files_preprocessed"`
	FilesAnalysed     int64         `toml:"files_analysed"`
	ObjectsCompiled   int64         `toml:"objects_compiled"`
	CompileFailures   int64         `toml:"compile_failures"`
	ArchivesBuilt     int64         `toml:"archives_built"`
	ExecutablesBuilt  int64         `toml:"executables_built"`
	Prebuild          PrebuildStats `toml:"prebuild"`
}

// PrebuildStats mirrors prebuild.Stats for the flushed document.
type PrebuildStats struct {
	Hits   int64 `toml:"hits"`
	Misses int64 `toml:"misses"`
	Writes int64 `toml:"writes"`
}

// Flush writes summary.toml into dir, creating it if necessary.
func (c *Collector) Flush(dir string, cache *prebuild.Cache) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return buildErrors.IO(dir, err)
	}

	stats := cache.Stats()
	summary := Summary{
		FilesDiscovered:   atomic.LoadInt64(&c.filesDiscovered),
		FilesPreprocessed: atomic.LoadInt64(&c.filesPreprocessed),
		FilesAnalysed:     atomic.LoadInt64(&c.filesAnalysed),
		ObjectsCompiled:   atomic.LoadInt64(&c.objectsCompiled),
		CompileFailures:   atomic.LoadInt64(&c.compileFailures),
		ArchivesBuilt:     atomic.LoadInt64(&c.archivesBuilt),
		ExecutablesBuilt:  atomic.LoadInt64(&c.executablesBuilt),
		Prebuild:          PrebuildStats{Hits: stats.Hits, Misses: stats.Misses, Writes: stats.Writes},
	}

	data, err := toml.Marshal(summary)
	if err != nil {
		return buildErrors.IO(dir, err)
	}
	path := filepath.Join(dir, "summary.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return buildErrors.IO(path, err)
	}
	return nil
}
