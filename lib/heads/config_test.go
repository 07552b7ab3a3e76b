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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o644))
	return dir
}

func TestLoadConfig(t *testing.T) {
	dir := writeConfig(t, `{
		"architectures": ["EncoderForEntityRecognitionWithCRF"],
		"d_model": 512,
		"num_labels": 9,
		"dropout_rate": 0.1,
		"id2label": {"0": "O", "1": "B-PER", "2": "I-PER"}
	}`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 512, cfg.DModel)
	require.Equal(t, 9, cfg.NumLabels)
	require.InDelta(t, 0.1, cfg.DropoutRate, 1e-6)
	require.Equal(t, []string{"EncoderForEntityRecognitionWithCRF"}, cfg.Architectures)
	require.Equal(t, "B-PER", cfg.LabelName(1))
	require.Equal(t, "7", cfg.LabelName(7))
}

func TestLoadConfigValidation(t *testing.T) {
	for name, content := range map[string]string{
		"zero d_model":     `{"d_model": 0, "num_labels": 2}`,
		"zero num_labels":  `{"d_model": 8, "num_labels": 0}`,
		"bad dropout":      `{"d_model": 8, "num_labels": 2, "dropout_rate": 1.5}`,
		"bad problem type": `{"d_model": 8, "num_labels": 2, "problem_type": "ranking"}`,
		"not json":         `nope`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}
