// Package cache memoises embeddings in a ristretto cache so repeated texts
// (recall queries, re-sent messages) skip the embedding model.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-runtime/memory"
)

// Config sizes the cache.
type Config struct {
	// MaxEntries bounds the number of cached vectors. Default: 10000.
	MaxEntries int64
}

// CachedEmbedder wraps an embedder with a bounded cache keyed by text.
type CachedEmbedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

// New wraps next.
func New(next memory.Embedder, cfg Config) (*CachedEmbedder, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// Name reports the wrapped embedder's name.
func (c *CachedEmbedder) Name() string {
	return memory.EmbedderName(c.next)
}

// Embed returns a cached vector or computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		return append([]float32(nil), cached.([]float32)...), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Dimensions returns the wrapped embedder's dimensions.
func (c *CachedEmbedder) Dimensions() int {
	return c.next.Dimensions()
}

// Wait blocks until pending cache writes are applied.
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
