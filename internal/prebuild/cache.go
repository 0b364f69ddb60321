// Package prebuild implements the content-addressed prebuild cache
// (spec §4.3): a flat directory of files named
// "<stem>.<hash>.<suffix>", immutable once written, shared across
// concurrent builds and across users. Writes go through a temporary
// sibling and a rename so concurrent writers never corrupt an earlier
// reader (spec §4.3, §5 "Shared resources").
package prebuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/types"
)

// Cache is the prebuild directory. Like the teacher's MetricsCache it
// keeps lock-free atomic counters for observability, but every entry
// itself lives on disk rather than in memory — the cache has no
// eviction policy of its own, only the explicit Sweep (spec §4.10).
type Cache struct {
	dir string

	hits   int64
	misses int64
	writes int64

	// accessed tracks every (stem,hash,suffix) this run has looked up
	// or written, for the default access-based Sweep policy.
	accessed *keySet
}

// New returns a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, buildErrors.IO(dir, err)
	}
	return &Cache{dir: dir, accessed: newKeySet()}, nil
}

// Key identifies one prebuild entry: a (stem, hash, suffix) triple.
type Key struct {
	Stem   string
	Hash   types.Fingerprint
	Suffix types.Suffix
}

// FileName renders the normative filename grammar (spec §6):
// STEM '.' HEX-HASH '.' SUFFIX.
func (k Key) FileName() string {
	return fmt.Sprintf("%s.%016x.%s", k.Stem, uint64(k.Hash), k.Suffix)
}

func (c *Cache) path(k Key) string {
	return filepath.Join(c.dir, k.FileName())
}

// Lookup reports whether a variant exists, returning its path if so.
func (c *Cache) Lookup(k Key) (types.Path, bool) {
	c.accessed.add(k)
	p := c.path(k)
	if _, err := os.Stat(p); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return "", false
	}
	atomic.AddInt64(&c.hits, 1)
	return types.Path(p), true
}

// Store copies an already-produced file into the cache under k's
// canonical name, atomically (write to a temp sibling, rename into
// place).
func (c *Cache) Store(sourcePath types.Path, k Key) error {
	c.accessed.add(k)
	dst := c.path(k)
	if _, err := os.Stat(dst); err == nil {
		// Another writer already produced this exact variant; last
		// writer wins without corrupting earlier readers, so a
		// concurrent duplicate write is not an error.
		atomic.AddInt64(&c.writes, 1)
		return nil
	}

	tmp := dst + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := copyFile(string(sourcePath), tmp); err != nil {
		return buildErrors.IO(string(sourcePath), err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return buildErrors.IO(dst, err)
	}
	atomic.AddInt64(&c.writes, 1)
	return nil
}

// Recover copies a cached entry out to dest.
func (c *Cache) Recover(k Key, dest types.Path) error {
	c.accessed.add(k)
	src := c.path(k)
	if err := copyFile(src, string(dest)); err != nil {
		return buildErrors.IO(src, err)
	}
	return nil
}

// Stats are the lock-free counters accumulated this run, mirroring the
// teacher's CachedMetrics statistics idiom.
type Stats struct {
	Hits   int64
	Misses int64
	Writes int64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Writes: atomic.LoadInt64(&c.writes),
	}
}

// Accessed returns the set of (stem,hash,suffix) keys this run looked
// up or wrote, for the default Sweep policy.
func (c *Cache) Accessed() []Key {
	return c.accessed.list()
}

// Sweep deletes every prebuild entry not named in keep, unless
// olderThan is non-zero, in which case it deletes only entries whose
// modification time is older than olderThan regardless of keep
// (spec §4.10).
func (c *Cache) Sweep(keep []Key, olderThan time.Duration) (deleted int, err error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, buildErrors.IO(c.dir, err)
	}

	keepNames := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepNames[k.FileName()] = true
	}

	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.Contains(name, ".tmp-") {
			// stray temp file from an interrupted write
			os.Remove(filepath.Join(c.dir, name))
			continue
		}
		if _, _, _, ok := ParseFileName(name); !ok {
			continue // not a prebuild entry (spec §8 invariant 6)
		}

		var shouldDelete bool
		if olderThan > 0 {
			info, statErr := e.Info()
			if statErr != nil {
				continue
			}
			shouldDelete = now.Sub(info.ModTime()) > olderThan
		} else {
			shouldDelete = !keepNames[name]
		}

		if shouldDelete {
			if rmErr := os.Remove(filepath.Join(c.dir, name)); rmErr == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

// ParseFileName parses the normative grammar STEM '.' HEX '.' SUFFIX,
// used both by Sweep and by the testable-property check in spec §8.6.
func ParseFileName(name string) (stem string, hash types.Fingerprint, suffix types.Suffix, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return "", 0, "", false
	}
	suffixStr := parts[len(parts)-1]
	hashStr := parts[len(parts)-2]
	stem = strings.Join(parts[:len(parts)-2], ".")

	switch types.Suffix(suffixStr) {
	case types.SuffixAnalysis, types.SuffixObject, types.SuffixModule:
	default:
		return "", 0, "", false
	}
	var h uint64
	if _, err := fmt.Sscanf(hashStr, "%x", &h); err != nil {
		return "", 0, "", false
	}
	return stem, types.Fingerprint(h), types.Suffix(suffixStr), true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// keySet is a tiny append-only set, sorted for deterministic iteration.
// Lookup/Store/Recover are called concurrently from every RunMP worker
// in the analyser, preprocessor, and both compile schedulers (spec §5,
// "shared across workers"), so mutation must be guarded — unlike the
// lock-free hit/miss/write counters, a map has no safe concurrent
// writer without one.
type keySet struct {
	mu   sync.Mutex
	seen map[string]Key
}

func newKeySet() *keySet { return &keySet{seen: make(map[string]Key)} }

func (s *keySet) add(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[k.FileName()] = k
}

func (s *keySet) list() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Key, 0, len(s.seen))
	for _, k := range s.seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName() < out[j].FileName() })
	return out
}
