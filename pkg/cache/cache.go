// Package cache holds per-frame metadata (geometry, pixel layout, rescale and
// default VOI) so decoding and synchronization never round-trip to the
// persistent store for a single frame.
//
// Entries are keyed by a normalized path plus frame index and persist until
// cleared, either per series or entirely. The cache owns no eviction policy.
package cache

import (
	"log/slog"
	"path"
	"strings"
	"sync"

	"slicesync/internal/models"
)

// Key identifies one cached frame.
type Key struct {
	Path  string
	Frame int
}

// KeyOf returns the cache key for a frame reference.
func KeyOf(ref models.FrameRef) Key {
	return Key{Path: NormalizePath(ref.Path), Frame: ref.Frame}
}

// NormalizePath canonicalizes a path so that spellings differing only in
// case or separator style map to the same slot.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	return strings.ToLower(p)
}

// Cache is a concurrency-safe metadata store.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]models.FrameDescriptor
	series  map[string]map[Key]struct{}

	store  Store
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for prefetch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates an empty cache backed by store. store may be nil, in which
// case only Put populates the cache.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]models.FrameDescriptor),
		series:  make(map[string]map[Key]struct{}),
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	defaultMu    sync.Mutex
	defaultCache *Cache
)

// Default returns the process-wide cache, creating it on first use.
func Default() *Cache {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCache == nil {
		defaultCache = New(nil)
	}
	return defaultCache
}

// SetDefault replaces the process-wide cache.
func SetDefault(c *Cache) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCache = c
}

// Reset drops the process-wide cache; the next Default call builds a new one.
func Reset() {
	SetDefault(nil)
}

// Put stores a descriptor under its reference.
func (c *Cache) Put(d models.FrameDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(d)
}

func (c *Cache) putLocked(d models.FrameDescriptor) {
	k := KeyOf(d.Ref)
	if old, ok := c.entries[k]; ok && old.Ref.SeriesUID != d.Ref.SeriesUID {
		delete(c.series[old.Ref.SeriesUID], k)
	}
	c.entries[k] = d
	keys, ok := c.series[d.Ref.SeriesUID]
	if !ok {
		keys = make(map[Key]struct{})
		c.series[d.Ref.SeriesUID] = keys
	}
	keys[k] = struct{}{}
}

// Lookup returns the descriptor cached for ref.
func (c *Cache) Lookup(ref models.FrameRef) (models.FrameDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[KeyOf(ref)]
	return d, ok
}

// Len returns the number of cached frames.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ClearSeries drops every entry of one series.
func (c *Cache) ClearSeries(seriesUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.series[seriesUID] {
		delete(c.entries, k)
	}
	delete(c.series, seriesUID)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]models.FrameDescriptor)
	c.series = make(map[string]map[Key]struct{})
}
