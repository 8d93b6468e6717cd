// Package cache memoizes evaluator results by content hash.
//
// The cache is purely an optimization: losing an entry costs a repeated
// evaluator call, never a different outcome for deterministic evaluators.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/mcpchecker/evalkit/pkg/evaluator"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultFlushEvery = 10
)

// KeyMaterial is everything that determines an evaluator's result.
type KeyMaterial struct {
	Config any    `json:"config"`
	Input  any    `json:"input"`
	Output string `json:"output"`
}

// Entry is the persisted form of a cached result.
type Entry struct {
	Result    evaluator.EvalResult `json:"result"`
	Timestamp time.Time            `json:"timestamp"`
}

type Options struct {
	// TTL is a duration string such as "7d", "12h", "30m" or "45s".
	// Unparsable values fall back to DefaultTTL with a warning.
	TTL string
	// Store persists entries; nil keeps the cache in memory only.
	Store Store
	// FlushEvery saves to Store after this many writes (default 10).
	FlushEvery int
	Logger     *slog.Logger
	// Now is swapped in tests.
	Now func() time.Time
}

// Cache is safe for concurrent use. Concurrent writes to the same key are
// resolved last-write-wins, which is harmless because entries are content
// addressed.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	writes  int
	hits    int
	misses  int

	ttl        time.Duration
	store      Store
	flushEvery int
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Cache {
	c := &Cache{
		entries:    make(map[string]Entry),
		store:      opts.Store,
		flushEvery: opts.FlushEvery,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.flushEvery <= 0 {
		c.flushEvery = DefaultFlushEvery
	}

	c.ttl = DefaultTTL
	if opts.TTL != "" {
		ttl, err := ParseTTL(opts.TTL)
		if err != nil {
			c.logger.Warn("invalid cache ttl, using default", "ttl", opts.TTL, "default", DefaultTTL, "error", err)
		} else {
			c.ttl = ttl
		}
	}

	return c
}

// Open creates a cache and loads previously persisted entries from the store.
func Open(ctx context.Context, opts Options) (*Cache, error) {
	c := New(opts)
	if c.store == nil {
		return c, nil
	}

	entries, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}
	maps.Copy(c.entries, entries)

	return c, nil
}

// Key hashes key material. encoding/json sorts map keys, so equal material
// always yields the same key.
func Key(m KeyMaterial) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key material: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns a copy of the cached result if it is younger than the TTL.
// Stale entries are evicted.
func (c *Cache) Get(m KeyMaterial) (*evaluator.EvalResult, bool) {
	key, err := Key(m)
	if err != nil {
		c.logger.Debug("skipping cache lookup", "error", err)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if c.now().Sub(entry.Timestamp) >= c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.hits++
	res := entry.Result
	return &res, true
}

// Set stores result and periodically persists the cache.
func (c *Cache) Set(m KeyMaterial, result *evaluator.EvalResult) {
	if result == nil {
		return
	}

	key, err := Key(m)
	if err != nil {
		c.logger.Debug("skipping cache write", "error", err)
		return
	}

	c.mu.Lock()
	c.entries[key] = Entry{Result: *result, Timestamp: c.now()}
	c.writes++
	var snapshot map[string]Entry
	if c.store != nil && c.writes%c.flushEvery == 0 {
		snapshot = maps.Clone(c.entries)
	}
	c.mu.Unlock()

	if snapshot != nil {
		if err := c.store.Save(context.Background(), snapshot); err != nil {
			c.logger.Warn("failed to persist cache", "error", err)
		}
	}
}

// Flush persists all entries to the store, if any.
func (c *Cache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	snapshot := maps.Clone(c.entries)
	c.mu.Unlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist cache: %w", err)
	}
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
