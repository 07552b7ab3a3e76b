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

// Package instar serves transformer task heads: CRF entity tagging,
// span-conditioned coreference tagging, and relation classification over
// pooled sentence representations. Models are directories containing a
// config.json naming the head architecture, a tokenizer, optional
// safetensors weights, and an optional ONNX-exported encoder.
package instar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/instar/lib/tagging"
)

// Config configures a Service
type Config struct {
	ModelsDir string
	PoolSize  int // Pipelines per model (0 = default)
}

// Service ties the model registry and result cache together behind one
// tagging entry point.
type Service struct {
	logger   *zap.Logger
	registry *ModelRegistry
	tagCache *TagCache

	mu     sync.Mutex
	cached map[string]*CachedTagger
}

// NewService loads all models under cfg.ModelsDir and starts the cache.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := NewModelRegistry(RegistryConfig{
		ModelsDir: cfg.ModelsDir,
		PoolSize:  cfg.PoolSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing model registry: %w", err)
	}

	return &Service{
		logger:   logger,
		registry: registry,
		tagCache: NewTagCache(logger.Named("tag_cache")),
		cached:   make(map[string]*CachedTagger),
	}, nil
}

// Tag extracts entities from texts using the named model.
func (s *Service) Tag(ctx context.Context, modelName string, texts []string) ([][]tagging.Entity, error) {
	model, err := s.cachedModel(modelName)
	if err != nil {
		return nil, err
	}

	RecordTagRequest(modelName)
	start := time.Now()

	results, err := model.Tag(ctx, texts)
	if err != nil {
		RecordRequestDuration("tag", modelName, "500", time.Since(start).Seconds())
		return nil, err
	}

	total := 0
	for _, entities := range results {
		total += len(entities)
	}
	RecordEntityCreation(modelName, total)

	return results, nil
}

// cachedModel returns the cache-wrapped model, wrapping on first use
func (s *Service) cachedModel(name string) (*CachedTagger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cached[name]; ok {
		return cached, nil
	}

	model, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	cached := s.tagCache.WrapModel(model, name)
	s.cached[name] = cached
	return cached, nil
}

// Models returns the loaded model names
func (s *Service) Models() []string {
	return s.registry.List()
}

// Architecture returns the architecture a model was loaded with
func (s *Service) Architecture(name string) (string, error) {
	return s.registry.Architecture(name)
}

// CacheStats returns per-model cache statistics
func (s *Service) CacheStats() []TagCacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]TagCacheStats, 0, len(s.cached))
	for _, cached := range s.cached {
		stats = append(stats, cached.Stats())
	}
	return stats
}

// Close stops the cache and unloads all models
func (s *Service) Close() error {
	s.tagCache.Close()
	return s.registry.Close()
}
