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

package backbone

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/antflydb/instar/lib/nn"
)

func init() {
	RegisterFactory("hash", func(path string, hiddenSize int) (Backbone, error) {
		return NewHashEmbedding(hiddenSize, 0)
	})
}

// HashEmbedding is a deterministic, weight-free encoder: each token ID maps
// to a fixed unit vector derived from a hash of the ID. There is no context
// mixing, so it is only suitable for development, smoke tests, and head
// plumbing verification, not for real inference quality.
type HashEmbedding struct {
	hidden int
	seed   uint64

	mu    sync.Mutex
	cache map[int32][]float32
}

// NewHashEmbedding creates a hash encoder with the given hidden size.
func NewHashEmbedding(hiddenSize int, seed uint64) (*HashEmbedding, error) {
	if hiddenSize < 1 {
		return nil, fmt.Errorf("backbone: hidden size must be >= 1, got %d", hiddenSize)
	}
	return &HashEmbedding{
		hidden: hiddenSize,
		seed:   seed,
		cache:  make(map[int32][]float32),
	}, nil
}

func (h *HashEmbedding) Encode(ctx context.Context, inputs *Inputs) (*Output, error) {
	if inputs.OutputAttentions {
		return nil, fmt.Errorf("backbone: hash encoder has no attention weights")
	}

	if inputs.InputEmbeds != nil {
		return h.output(inputs, inputs.InputEmbeds), nil
	}

	batch, seq, err := validate(inputs)
	if err != nil {
		return nil, err
	}

	hidden := make([][][]float32, batch)
	for i := 0; i < batch; i++ {
		hidden[i] = make([][]float32, seq)
		for t := 0; t < seq; t++ {
			if inputs.AttentionMask[i][t] == 0 {
				hidden[i][t] = make([]float32, h.hidden)
				continue
			}
			hidden[i][t] = h.vector(inputs.InputIDs[i][t])
		}
	}
	return h.output(inputs, hidden), nil
}

// output wraps the hidden states, exposing the single embedding layer when
// all layers were requested.
func (h *HashEmbedding) output(inputs *Inputs, hidden [][][]float32) *Output {
	out := &Output{LastHiddenState: hidden}
	if inputs.OutputHiddenStates {
		out.HiddenStates = [][][][]float32{hidden}
	}
	return out
}

// vector returns the unit embedding for a token ID, caching per ID.
func (h *HashEmbedding) vector(id int32) []float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.cache[id]; ok {
		return v
	}

	var key [12]byte
	binary.LittleEndian.PutUint64(key[:8], h.seed)
	binary.LittleEndian.PutUint32(key[8:], uint32(id))
	rng := nn.RNG(xxhash.Sum64(key[:]))

	v := make([]float32, h.hidden)
	var norm float64
	for i := range v {
		v[i] = float32(rng.Float64()*2 - 1)
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}

	h.cache[id] = v
	return v
}

func (h *HashEmbedding) HiddenSize() int { return h.hidden }

func (h *HashEmbedding) Name() string { return "hash" }

func (h *HashEmbedding) Close() error { return nil }
