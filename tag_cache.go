// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package instar

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/instar/lib/tagging"
)

// TagCacheTTL is the default TTL for cached tagging results
const TagCacheTTL = 2 * time.Minute

// CachedTagger wraps a tagging model with caching support
type CachedTagger struct {
	model   tagging.Model
	name    string
	cache   *ttlcache.Cache[string, [][]tagging.Entity]
	sfGroup *singleflight.Group
	logger  *zap.Logger

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewCachedTagger wraps a tagging model with caching
func NewCachedTagger(
	model tagging.Model,
	name string,
	cache *ttlcache.Cache[string, [][]tagging.Entity],
	logger *zap.Logger,
) *CachedTagger {
	return &CachedTagger{
		model:   model,
		name:    name,
		cache:   cache,
		sfGroup: &singleflight.Group{},
		logger:  logger,
	}
}

// Tag extracts entities with caching support
func (c *CachedTagger) Tag(ctx context.Context, texts []string) ([][]tagging.Entity, error) {
	key := c.cacheKey(texts)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("tag")
		c.logger.Debug("Tag cache hit",
			zap.String("model", c.name),
			zap.Int("num_texts", len(texts)))
		return item.Value(), nil
	}

	// Use singleflight to deduplicate concurrent identical requests
	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("tag")

		start := time.Now()
		entities, err := c.model.Tag(ctx, texts)
		if err != nil {
			return nil, err
		}

		RecordRequestDuration("tag", c.name, "200", time.Since(start).Seconds())

		c.cache.Set(key, entities, ttlcache.DefaultTTL)

		c.logger.Debug("Tagging completed and cached",
			zap.String("model", c.name),
			zap.Int("num_texts", len(texts)),
			zap.Duration("duration", time.Since(start)))

		return entities, nil
	})

	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for tagging request",
			zap.String("model", c.name))
	}

	return result.([][]tagging.Entity), nil
}

// cacheKey generates a unique cache key from model + texts
func (c *CachedTagger) cacheKey(texts []string) string {
	h := xxhash.New()

	_, _ = h.WriteString(c.name)
	_, _ = h.WriteString("|")

	for i, text := range texts {
		_, _ = h.WriteString("t")
		// Use index to ensure order matters
		_, _ = h.Write([]byte{byte(i >> 8), byte(i)})
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(text)
		_, _ = h.WriteString("|")
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Close closes the underlying model
func (c *CachedTagger) Close() error {
	return c.model.Close()
}

// Stats returns cache statistics for this model
func (c *CachedTagger) Stats() TagCacheStats {
	return TagCacheStats{
		Model:            c.name,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// TagCacheStats holds cache statistics for a tagging model
type TagCacheStats struct {
	Model            string `json:"model"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// TagCache manages caching for multiple tagging models
type TagCache struct {
	cache  *ttlcache.Cache[string, [][]tagging.Entity]
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewTagCache creates a new tagging cache
func NewTagCache(logger *zap.Logger) *TagCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, [][]tagging.Entity](TagCacheTTL),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	tc := &TagCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}

	// Log cache stats periodically
	go tc.logStats(ctx)

	return tc
}

// WrapModel wraps a tagging model with caching
func (tc *TagCache) WrapModel(model tagging.Model, name string) *CachedTagger {
	return NewCachedTagger(model, name, tc.cache, tc.logger.Named(name))
}

// Close stops the cache
func (tc *TagCache) Close() {
	tc.cancel()
	tc.cache.Stop()
}

// logStats logs cache statistics periodically
func (tc *TagCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := tc.cache.Metrics()
			if metrics.Hits > 0 || metrics.Misses > 0 {
				hitRate := float64(0)
				total := metrics.Hits + metrics.Misses
				if total > 0 {
					hitRate = float64(metrics.Hits) / float64(total) * 100
				}
				tc.logger.Info("Tag cache stats",
					zap.Uint64("hits", metrics.Hits),
					zap.Uint64("misses", metrics.Misses),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", tc.cache.Len()))
			}
		}
	}
}

// Stats returns global cache statistics
func (tc *TagCache) Stats() map[string]any {
	metrics := tc.cache.Metrics()
	return map[string]any{
		"hits":   metrics.Hits,
		"misses": metrics.Misses,
		"items":  tc.cache.Len(),
	}
}
