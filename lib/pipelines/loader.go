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

package pipelines

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// LoadTokenizer loads a HuggingFace tokenizer.json from a model directory,
// reading tokenizer_config.json alongside it when present.
func LoadTokenizer(modelPath string) (Tokenizer, error) {
	var config *api.Config
	configPath := filepath.Join(modelPath, "tokenizer_config.json")
	if _, err := os.Stat(configPath); err == nil {
		normalized, err := normalizeTokenizerConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("pipelines: normalizing tokenizer config: %w", err)
		}
		config, err = api.ParseConfigContent(normalized)
		if err != nil {
			return nil, fmt.Errorf("pipelines: parsing tokenizer config: %w", err)
		}
		config.ConfigFile = configPath
	}

	tokenizerJSONPath := filepath.Join(modelPath, "tokenizer.json")
	if _, err := os.Stat(tokenizerJSONPath); err != nil {
		return nil, fmt.Errorf("pipelines: no tokenizer.json in %s", modelPath)
	}
	tok, err := hftokenizer.NewFromFile(config, tokenizerJSONPath)
	if err != nil {
		return nil, fmt.Errorf("pipelines: loading tokenizer.json: %w", err)
	}
	return tok, nil
}

// normalizeTokenizerConfig rewrites HuggingFace AddedToken objects
// ({"__type": "AddedToken", "content": "<s>"}) into the plain strings the
// tokenizer config parser expects.
func normalizeTokenizerConfig(configPath string) ([]byte, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := sonic.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}

	for _, field := range []string{
		"bos_token", "eos_token", "pad_token", "unk_token",
		"cls_token", "sep_token", "mask_token",
	} {
		if val, ok := raw[field]; ok {
			raw[field] = tokenContent(val)
		}
	}
	return sonic.Marshal(raw)
}

func tokenContent(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if content, ok := val["content"].(string); ok {
			return content
		}
	}
	return ""
}
