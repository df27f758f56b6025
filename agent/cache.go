package agent

import (
	"context"
	"net/http"
	"sync"
)

// Record is the raw cached representation of a prior response to a URL:
// exactly what would be re-validated on a subsequent request.
type Record struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Cache is the validator store an Agent consults when preflighting a
// request (to add If-None-Match / If-Modified-Since) and updates after a
// response comes back. It is the Go shape of the "cache backing store"
// the external HTTP agent contract names in SPEC_FULL.md §6.
type Cache interface {
	Get(ctx context.Context, url string) (*Record, bool, error)
	Set(ctx context.Context, url string, rec *Record) error
	Delete(ctx context.Context, url string) error
}

// MemoryCache is a minimal in-process Cache, sufficient for the reference
// Agent and for tests. It holds no entries across process restarts.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*Record
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Record)}
}

func (c *MemoryCache) Get(_ context.Context, url string) (*Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[url]
	return rec, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, url string, rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = rec
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
	return nil
}
