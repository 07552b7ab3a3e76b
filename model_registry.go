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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/instar/lib/backbone"
	"github.com/antflydb/instar/lib/heads"
	"github.com/antflydb/instar/lib/nn"
	"github.com/antflydb/instar/lib/pipelines"
	"github.com/antflydb/instar/lib/tagging"
)

// RegistryConfig configures the model registry
type RegistryConfig struct {
	ModelsDir string
	PoolSize  int // Number of concurrent pipelines per model (0 = default)
}

// loadedModel pairs a serving pool with the metadata callers ask about
type loadedModel struct {
	model        tagging.Model
	architecture string
	numLabels    int
}

// ModelRegistry loads every tagging model found under a models directory
// and serves them by name. Each subdirectory with a config.json is one
// model; directories that fail to load are skipped with a warning.
type ModelRegistry struct {
	modelsDir string
	logger    *zap.Logger
	poolSize  int

	mu     sync.RWMutex
	models map[string]*loadedModel
}

// NewModelRegistry scans config.ModelsDir and loads all models found there.
func NewModelRegistry(config RegistryConfig, logger *zap.Logger) (*ModelRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = min(runtime.NumCPU(), 4)
	}

	registry := &ModelRegistry{
		modelsDir: config.ModelsDir,
		logger:    logger,
		poolSize:  poolSize,
		models:    make(map[string]*loadedModel),
	}

	if err := registry.loadModels(); err != nil {
		return nil, err
	}

	logger.Info("Model registry initialized",
		zap.Int("models_loaded", len(registry.models)),
		zap.Int("poolSize", poolSize))

	return registry, nil
}

// loadModels scans the models directory and loads each model subdirectory
func (r *ModelRegistry) loadModels() error {
	if r.modelsDir == "" {
		r.logger.Info("No models directory configured")
		return nil
	}

	entries, err := os.ReadDir(r.modelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("Models directory does not exist",
				zap.String("dir", r.modelsDir))
			return nil
		}
		return fmt.Errorf("reading models directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		modelPath := filepath.Join(r.modelsDir, name)

		if _, err := os.Stat(filepath.Join(modelPath, "config.json")); err != nil {
			r.logger.Debug("Skipping directory without config.json",
				zap.String("dir", name))
			continue
		}

		start := time.Now()
		loaded, err := r.loadModel(name, modelPath)
		if err != nil {
			r.logger.Warn("Failed to load model, skipping",
				zap.String("model", name),
				zap.Error(err))
			continue
		}
		RecordModelLoadDuration(name, loaded.architecture, time.Since(start).Seconds())

		r.models[name] = loaded
		r.logger.Info("Loaded tagging model",
			zap.String("name", name),
			zap.String("architecture", loaded.architecture),
			zap.Int("num_labels", loaded.numLabels),
			zap.Duration("duration", time.Since(start)))
	}

	return nil
}

// loadModel builds a pooled tagger for one model directory
func (r *ModelRegistry) loadModel(name, modelPath string) (*loadedModel, error) {
	cfg, err := heads.LoadConfig(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Architectures) == 0 {
		return nil, fmt.Errorf("config.json has no architectures")
	}
	architecture := cfg.Architectures[0]

	constructor, err := heads.Resolve(architecture)
	if err != nil {
		return nil, fmt.Errorf("resolving architecture %q: %w", architecture, err)
	}

	backboneKind := detectBackboneKind(modelPath)

	// Weights are parsed once and shared across replicas; the tensors are
	// read-only after loading.
	var tensors map[string]*nn.Tensor
	weightsPath := filepath.Join(modelPath, "model.safetensors")
	if _, err := os.Stat(weightsPath); err == nil {
		tensors, err = nn.LoadSafetensors(weightsPath)
		if err != nil {
			return nil, fmt.Errorf("loading weights: %w", err)
		}
	}

	pool, err := tagging.NewPooledTagger(
		tagging.PoolConfig{PoolSize: r.poolSize, Logger: r.logger.Named(name)},
		func() (*pipelines.TaggingPipeline, error) {
			return r.buildPipeline(modelPath, backboneKind, cfg, constructor, tensors)
		})
	if err != nil {
		return nil, err
	}

	return &loadedModel{
		model:        pool,
		architecture: architecture,
		numLabels:    cfg.NumLabels,
	}, nil
}

// buildPipeline constructs one pipeline replica: its own tokenizer,
// encoder, and head instance.
func (r *ModelRegistry) buildPipeline(
	modelPath, backboneKind string,
	cfg *heads.Config,
	constructor heads.Constructor,
	tensors map[string]*nn.Tensor,
) (*pipelines.TaggingPipeline, error) {
	tokenizer, err := pipelines.LoadTokenizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	encoder, err := backbone.Open(backboneKind, modelPath, cfg.DModel)
	if err != nil {
		return nil, fmt.Errorf("opening %s backbone: %w", backboneKind, err)
	}

	head, err := constructor(cfg, encoder)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("constructing head: %w", err)
	}

	if tensors != nil {
		loader, ok := head.(interface {
			LoadWeights(map[string]*nn.Tensor) error
		})
		if !ok {
			_ = encoder.Close()
			return nil, fmt.Errorf("head does not accept weights")
		}
		if err := loader.LoadWeights(tensors); err != nil {
			_ = encoder.Close()
			return nil, fmt.Errorf("loading head weights: %w", err)
		}
	}

	tokenHead, ok := head.(heads.TokenHead)
	if !ok {
		_ = encoder.Close()
		return nil, fmt.Errorf("architecture does not produce token labels")
	}

	return pipelines.NewTagging(tokenizer, tokenHead), nil
}

// detectBackboneKind picks the ONNX backbone when the directory ships an
// exported encoder, otherwise the deterministic hash embedding.
func detectBackboneKind(modelPath string) string {
	if _, err := os.Stat(filepath.Join(modelPath, "model.onnx")); err == nil {
		return "onnx"
	}
	matches, _ := filepath.Glob(filepath.Join(modelPath, "*.onnx"))
	if len(matches) > 0 {
		return "onnx"
	}
	return "hash"
}

// Get returns a tagging model by name
func (r *ModelRegistry) Get(name string) (tagging.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loaded, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model not found: %s", name)
	}
	return loaded.model, nil
}

// Architecture returns the architecture name a model was loaded with
func (r *ModelRegistry) Architecture(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loaded, ok := r.models[name]
	if !ok {
		return "", fmt.Errorf("model not found: %s", name)
	}
	return loaded.architecture, nil
}

// List returns all loaded model names
func (r *ModelRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// Close closes all models
func (r *ModelRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for name, loaded := range r.models {
		if err := loaded.model.Close(); err != nil {
			r.logger.Warn("Error closing model",
				zap.String("model", name),
				zap.Error(err))
			lastErr = err
		}
	}
	r.models = make(map[string]*loadedModel)
	return lastErr
}
