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

// Package tagging provides the concurrent serving wrapper around tagging
// pipelines: a fixed pool of pipeline replicas behind a semaphore with
// round-robin dispatch.
package tagging

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/antflydb/instar/lib/pipelines"
)

// Entity is one labeled mention extracted from a text.
type Entity struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float32 `json:"score"`
}

// Model is the tagging capability exposed to callers.
type Model interface {
	// Tag extracts entities from the given texts, one slice per text.
	Tag(ctx context.Context, texts []string) ([][]Entity, error)

	// Close releases any resources held by the model.
	Close() error
}

var _ Model = (*PooledTagger)(nil)

// PoolConfig holds configuration for creating a PooledTagger.
type PoolConfig struct {
	// PoolSize is the number of pipeline replicas (0 = CPU count).
	PoolSize int

	// Logger for logging (nil = no logging).
	Logger *zap.Logger
}

// PipelineFactory builds one pipeline replica.
type PipelineFactory func() (*pipelines.TaggingPipeline, error)

// PooledTagger serves tagging requests over a pool of pipeline replicas.
// A semaphore bounds concurrency to the pool size; replicas are picked
// round-robin.
type PooledTagger struct {
	pipelines []*pipelines.TaggingPipeline
	sem       *semaphore.Weighted
	next      atomic.Uint64
	logger    *zap.Logger
	poolSize  int
}

// NewPooledTagger builds poolSize replicas through the factory.
func NewPooledTagger(cfg PoolConfig, factory PipelineFactory) (*PooledTagger, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	logger.Info("Initializing pooled tagger", zap.Int("poolSize", poolSize))

	replicas := make([]*pipelines.TaggingPipeline, poolSize)
	for i := 0; i < poolSize; i++ {
		p, err := factory()
		if err != nil {
			for j := 0; j < i; j++ {
				_ = replicas[j].Close()
			}
			logger.Error("Failed to create tagging pipeline", zap.Int("index", i), zap.Error(err))
			return nil, fmt.Errorf("creating tagging pipeline %d: %w", i, err)
		}
		replicas[i] = p
	}

	return &PooledTagger{
		pipelines: replicas,
		sem:       semaphore.NewWeighted(int64(poolSize)),
		logger:    logger,
		poolSize:  poolSize,
	}, nil
}

// Tag extracts entities from the given texts. Thread-safe; blocks while all
// replicas are busy.
func (p *PooledTagger) Tag(ctx context.Context, texts []string) ([][]Entity, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring pipeline slot: %w", err)
	}
	defer p.sem.Release(1)

	idx := int(p.next.Add(1) % uint64(p.poolSize))
	pipeline := p.pipelines[idx]

	p.logger.Debug("Tagging batch",
		zap.Int("pipelineIndex", idx),
		zap.Int("num_texts", len(texts)))

	raw, err := pipeline.Tag(ctx, texts)
	if err != nil {
		p.logger.Error("Tagging failed", zap.Int("pipelineIndex", idx), zap.Error(err))
		return nil, fmt.Errorf("tagging: %w", err)
	}

	results := make([][]Entity, len(raw))
	for i, entities := range raw {
		results[i] = make([]Entity, len(entities))
		for j, e := range entities {
			results[i][j] = Entity{
				Text:  e.Text,
				Label: e.Label,
				Start: e.Start,
				End:   e.End,
				Score: e.Score,
			}
		}
	}

	p.logger.Debug("Tagging completed",
		zap.Int("pipelineIndex", idx),
		zap.Int("total_entities", countEntities(results)))

	return results, nil
}

// Close releases every replica.
func (p *PooledTagger) Close() error {
	var lastErr error
	for i, pipeline := range p.pipelines {
		if pipeline == nil {
			continue
		}
		if err := pipeline.Close(); err != nil {
			p.logger.Warn("Failed to close pipeline", zap.Int("index", i), zap.Error(err))
			lastErr = err
		}
	}
	p.pipelines = nil
	return lastErr
}

func countEntities(results [][]Entity) int {
	count := 0
	for _, entities := range results {
		count += len(entities)
	}
	return count
}
