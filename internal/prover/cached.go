package prover

import (
	"context"
	"encoding/json"
	"time"

	"github.com/veriform/proofloop/internal/cache"
)

// CachedClient wraps a Client with a result cache keyed by proof
// source hash. Checking a proof is deterministic, so identical sources
// never need a second round trip to the toolchain.
type CachedClient struct {
	inner Client
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedClient wraps inner with the given cache.
func NewCachedClient(inner Client, c cache.Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{
		inner: inner,
		cache: c,
		ttl:   ttl,
	}
}

// Name returns the wrapped client name
func (c *CachedClient) Name() string {
	return c.inner.Name()
}

// Check returns a cached verdict when available, otherwise delegates.
// Errors are never cached.
func (c *CachedClient) Check(ctx context.Context, proofSource string) (*Result, error) {
	key := cache.Key("prover", proofSource)

	if data, found := c.cache.Get(key); found {
		var result Result
		if err := json.Unmarshal(data, &result); err == nil {
			return &result, nil
		}
		// Corrupt entry; drop it and re-check.
		_ = c.cache.Delete(key)
	}

	result, err := c.inner.Check(ctx, proofSource)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		_ = c.cache.Set(key, data, c.ttl)
	}

	return result, nil
}
