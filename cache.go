package aurora

import (
	"path/filepath"

	"github.com/aurora-build/aurora/internal/cache"
)

// Cache is a handle onto a project's on-disk build cache index,
// independent of any particular Run. It exposes the C2 operations a
// caller (the CLI's `cache clean`/`cache status` verbs, or any other
// tooling) needs without having to construct a full Run: status and
// clean. Lookup/record happen implicitly inside Run.Execute and are not
// exposed here, since they are only ever meaningful against a specific
// beam's fingerprint.
type Cache struct {
	store *cache.Store
}

// CacheStatus reports the on-disk cache index's size, per spec §4.2's
// status() → {entry_count, total_bytes} contract.
type CacheStatus struct {
	EntryCount int
	TotalBytes int64
}

// OpenCache opens the cache index at <projectDir>/.aurora/cache/index,
// creating its directory if absent; the index file itself is written on
// the first record or clean.
func OpenCache(projectDir string) (*Cache, error) {
	store, err := cache.Open(filepath.Join(projectDir, ".aurora", "cache", "index"), 0)
	if err != nil {
		return nil, err
	}
	return &Cache{store: store}, nil
}

// Status reports the number of entries currently recorded and the
// index file's total size in bytes.
func (c *Cache) Status() (CacheStatus, error) {
	entries, bytes, err := c.store.Status()
	if err != nil {
		return CacheStatus{}, err
	}
	return CacheStatus{EntryCount: entries, TotalBytes: bytes}, nil
}

// Clean removes every recorded cache entry.
func (c *Cache) Clean() error {
	return c.store.Clean()
}
