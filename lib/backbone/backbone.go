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

// Package backbone provides the text encoders that feed the task heads.
// A backbone turns token IDs into contextual hidden states of shape
// [batch][seq][hidden]; the heads never see raw text or tokenizers.
package backbone

import (
	"context"
	"errors"
	"fmt"

	"github.com/antflydb/instar/lib/registry"
)

// ErrEmptyBatch indicates a forward call with no sequences.
var ErrEmptyBatch = errors.New("backbone: empty batch")

// Inputs carries one encoder forward call. InputIDs and AttentionMask must
// be rectangular and the same shape; pad shorter sequences first.
type Inputs struct {
	InputIDs      [][]int32
	AttentionMask [][]int32

	// InputEmbeds, when set, bypasses the embedding lookup and feeds
	// [batch][seq][hidden] vectors directly. Backbones that cannot honor it
	// return an error rather than silently ignoring it.
	InputEmbeds [][][]float32

	// OutputHiddenStates requests every layer's hidden states in addition to
	// the last. OutputAttentions requests per-layer attention weights.
	// Backbones that cannot honor a requested output return an error rather
	// than silently omitting it.
	OutputHiddenStates bool
	OutputAttentions   bool
}

// Output is the result of an encoder forward call.
type Output struct {
	// LastHiddenState is [batch][seq][hidden].
	LastHiddenState [][][]float32

	// HiddenStates holds every layer's states when requested, embedding
	// output first, final layer last: [layer][batch][seq][hidden].
	HiddenStates [][][][]float32

	// Attentions holds per-layer attention weights when requested:
	// [layer][batch][heads][seq][seq].
	Attentions [][][][][]float32
}

// Backbone encodes token ID batches into hidden states.
type Backbone interface {
	Encode(ctx context.Context, inputs *Inputs) (*Output, error)
	HiddenSize() int
	Name() string
	Close() error
}

// Factory constructs a backbone from a model directory.
type Factory func(path string, hiddenSize int) (Backbone, error)

// registry maps backbone kind names ("onnx", "hash") to factories. Later
// registrations overwrite earlier ones.
var factories = registry.New[Factory]()

// RegisterFactory installs a backbone factory under the given kind name.
func RegisterFactory(kind string, f Factory) {
	factories.Register(kind, f)
}

// Open constructs a backbone of the given kind for a model directory.
func Open(kind, path string, hiddenSize int) (Backbone, error) {
	f, err := factories.Resolve(kind)
	if err != nil {
		return nil, fmt.Errorf("backbone kind %q: %w", kind, err)
	}
	return f(path, hiddenSize)
}

// Kinds lists the registered backbone kinds.
func Kinds() []string {
	return factories.Names()
}

// validate checks the shape preconditions shared by all backbones.
func validate(inputs *Inputs) (batch, seq int, err error) {
	if len(inputs.InputIDs) == 0 {
		return 0, 0, ErrEmptyBatch
	}
	batch = len(inputs.InputIDs)
	seq = len(inputs.InputIDs[0])
	if len(inputs.AttentionMask) != batch {
		return 0, 0, fmt.Errorf("backbone: %d mask rows for %d input rows", len(inputs.AttentionMask), batch)
	}
	for i := 0; i < batch; i++ {
		if len(inputs.InputIDs[i]) != seq {
			return 0, 0, fmt.Errorf("backbone: ragged input batch: row %d has %d tokens, expected %d",
				i, len(inputs.InputIDs[i]), seq)
		}
		if len(inputs.AttentionMask[i]) != seq {
			return 0, 0, fmt.Errorf("backbone: ragged mask batch: row %d has %d entries, expected %d",
				i, len(inputs.AttentionMask[i]), seq)
		}
	}
	return batch, seq, nil
}
