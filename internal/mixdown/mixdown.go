// Package mixdown implements the Mixdown Cache (spec §4.8): a per-session
// LRU from track path to its encoded buffer and analysis, with insertion-
// order eviction.
package mixdown

import (
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one cached mixdown (spec §4.8).
type Entry struct {
	EncodedBuffer []byte
	BPM           float64
	Key           string
	Analysis      any
	Timestamp     time.Time
}

// Cache is a per-session, single-writer LRU keyed by track path (spec §4.8,
// §5 "Mixdown cache: per-session, single-writer"). Grounded on
// hashicorp/golang-lru/v2. Get reads with Peek so a lookup never changes
// eviction order; the oldest insertion is evicted first, and re-putting an
// existing path counts as a fresh insertion.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, Entry]
	hits   int
	misses int
}

// New builds a cache with the given max entry count.
func New(max int) (*Cache, error) {
	if max <= 0 {
		max = 1
	}
	inner, err := lru.New[string, Entry](max)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner}, nil
}

// Get returns the cached entry for path, recording a hit or miss.
func (c *Cache) Get(path string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Peek(path)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return entry, ok
}

// Put inserts or updates the cached entry for path.
func (c *Cache) Put(path string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(path, entry)
}

// Clear removes all entries; invoked on "new neighborhood" transitions
// (spec §4.8).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats is the spec §4.8 reporting surface: hits, misses, hit rate, size,
// and cached-track basenames.
type Stats struct {
	Hits      int
	Misses    int
	HitRate   float64
	Size      int
	Basenames []string
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	keys := c.lru.Keys()
	basenames := make([]string, 0, len(keys))
	for _, k := range keys {
		basenames = append(basenames, filepath.Base(k))
	}

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   hitRate,
		Size:      c.lru.Len(),
		Basenames: basenames,
	}
}
