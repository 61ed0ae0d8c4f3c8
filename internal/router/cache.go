package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/scout/internal/persist"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// DefaultCacheTTL bounds how long cached completions stay servable.
const DefaultCacheTTL = 24 * time.Hour

// Cache is a disk-backed completion cache keyed by canonical request
// digest. Entries are written on every success and consulted only when the
// run has degraded far enough that avoiding new calls matters.
type Cache struct {
	dir string
	ttl time.Duration
}

// cacheEntry is the on-disk format of one cached completion.
type cacheEntry struct {
	SavedAt string `json:"saved_at"`
	Result  Result `json:"result"`
}

// NewCache creates a cache rooted at dir. A non-positive ttl falls back to
// DefaultCacheTTL. The directory is created on first Put.
func NewCache(dir string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Cache{dir: dir, ttl: ttl}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached result for key when present and fresh. Expired and
// unreadable entries miss; corrupt entries are removed.
func (c *Cache) Get(key string) (Result, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return Result{}, false
	}

	var entry cacheEntry

	unmarshalErr := json.Unmarshal(data, &entry)
	if unmarshalErr != nil {
		_ = os.Remove(c.path(key))

		return Result{}, false
	}

	savedAt, parseErr := time.Parse(time.RFC3339Nano, entry.SavedAt)
	if parseErr != nil || time.Since(savedAt) > c.ttl {
		return Result{}, false
	}

	entry.Result.FromCache = true

	return entry.Result, true
}

// Put stores a completion under key.
func (c *Cache) Put(key string, res Result) error {
	mkErr := os.MkdirAll(c.dir, persist.DirPerm)
	if mkErr != nil {
		return fmt.Errorf("create cache dir: %w", mkErr)
	}

	entry := cacheEntry{SavedAt: state.NowUTC(), Result: res}

	data, err := persist.MarshalStable(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	writeErr := persist.WriteFileAtomic(c.path(key), data, persist.FilePerm)
	if writeErr != nil {
		return fmt.Errorf("write cache entry: %w", writeErr)
	}

	return nil
}
