package segmentation

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"github.com/promptseg/segmentd/backend"
)

// EmbeddingCache amortizes per-image feature extraction across repeated
// prompt requests against the same image. It is deliberately a single
// slot, not an LRU: the target workload is one interactive client working
// on one image at a time. Concurrent clients working on different images
// will thrash the slot; serializing them is the engine's job.
type EmbeddingCache struct {
	backend backend.Backend

	mu          sync.Mutex
	fingerprint string
	state       backend.EmbeddingState

	hits   atomic.Int64
	misses atomic.Int64
}

// NewEmbeddingCache returns an empty cache computing entries through b.
func NewEmbeddingCache(b backend.Backend) *EmbeddingCache {
	return &EmbeddingCache{backend: b}
}

// Ensure returns the embedding for fingerprint, computing and caching it
// on a miss. The previously resident embedding, if any, is released only
// after the new one is successfully computed, so a failed extraction
// leaves the cache in its prior state.
func (c *EmbeddingCache) Ensure(
	ctx context.Context,
	img image.Image,
	fingerprint string,
) (backend.EmbeddingState, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::EmbeddingCache::Ensure")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil && c.fingerprint == fingerprint {
		c.hits.Inc()
		return c.state, nil
	}

	state, err := c.backend.ComputeEmbedding(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compute image embedding")
	}
	c.misses.Inc()
	if c.state != nil {
		c.state.Release()
	}
	c.state = state
	c.fingerprint = fingerprint
	return state, nil
}

// Invalidate clears the cache unconditionally, releasing any resident
// embedding.
func (c *EmbeddingCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		c.state.Release()
	}
	c.state = nil
	c.fingerprint = ""
}

// Resident returns the fingerprint of the cached embedding, or "".
func (c *EmbeddingCache) Resident() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return ""
	}
	return c.fingerprint
}

// Stats returns cumulative hit and miss counts.
func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
