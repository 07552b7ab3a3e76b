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

package heads

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

// Problem types for the flat classification heads, matching the HuggingFace
// config.json vocabulary.
const (
	ProblemRegression  = "regression"
	ProblemSingleLabel = "single_label_classification"
	ProblemMultiLabel  = "multi_label_classification"
)

// Config describes one head instance. It is read-only after construction;
// the lazily inferred problem type lives on the head, not here.
type Config struct {
	// Architectures names the head class for registry resolution, most
	// specific first.
	Architectures []string `json:"architectures,omitempty"`

	DModel      int     `json:"d_model"`
	NumLabels   int     `json:"num_labels"`
	DropoutRate float32 `json:"dropout_rate"`

	// ProblemType, when set, fixes the loss selection for classification
	// heads. When empty it is inferred from the first labeled call.
	ProblemType string `json:"problem_type,omitempty"`

	// ID2Label maps label IDs (as decimal strings, HuggingFace-style) to
	// label names.
	ID2Label map[string]string `json:"id2label,omitempty"`

	// Seed drives parameter initialization when no weights are loaded.
	Seed uint64 `json:"seed,omitempty"`
}

// LoadConfig reads a config.json from a model directory.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heads: reading config: %w", err)
	}

	var cfg Config
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("heads: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("heads: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields every head requires.
func (c *Config) Validate() error {
	if c.DModel < 1 {
		return fmt.Errorf("d_model must be >= 1, got %d", c.DModel)
	}
	if c.NumLabels < 1 {
		return fmt.Errorf("num_labels must be >= 1, got %d", c.NumLabels)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate must be in [0, 1), got %g", c.DropoutRate)
	}
	switch c.ProblemType {
	case "", ProblemRegression, ProblemSingleLabel, ProblemMultiLabel:
	default:
		return fmt.Errorf("unknown problem_type %q", c.ProblemType)
	}
	return nil
}

// LabelName returns the name for a label ID, falling back to the decimal ID.
func (c *Config) LabelName(id int) string {
	if name, ok := c.ID2Label[fmt.Sprintf("%d", id)]; ok {
		return name
	}
	return fmt.Sprintf("%d", id)
}
