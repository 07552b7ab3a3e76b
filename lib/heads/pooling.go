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
	"math"

	"github.com/antflydb/instar/lib/nn"
)

// Pooler reduces per-token hidden states [batch][seq][dim] to one vector per
// example [batch][dim].
type Pooler interface {
	Pool(hidden [][][]float32, mask [][]int32) ([][]float32, error)
}

// SimplePooler takes the leading-token vector and passes it through a
// two-layer transform: dense, ReLU, dropout, dense. The mask is accepted for
// interface symmetry but unused.
type SimplePooler struct {
	Dense1  *nn.Linear
	Dense2  *nn.Linear
	Dropout *nn.Dropout
}

// NewSimplePooler builds a pooler with seeded initialization from cfg.
func NewSimplePooler(cfg *Config) *SimplePooler {
	rng := nn.RNG(cfg.Seed)
	return &SimplePooler{
		Dense1:  nn.NewLinear(cfg.DModel, cfg.DModel, rng),
		Dense2:  nn.NewLinear(cfg.DModel, cfg.DModel, rng),
		Dropout: nn.NewDropout(cfg.DropoutRate, rng),
	}
}

func (p *SimplePooler) Pool(hidden [][][]float32, mask [][]int32) ([][]float32, error) {
	out := make([][]float32, len(hidden))
	for i, seq := range hidden {
		if len(seq) == 0 {
			return nil, fmt.Errorf("heads: example %d has no tokens", i)
		}
		out[i] = p.transform(seq[0])
	}
	return out, nil
}

func (p *SimplePooler) transform(vec []float32) []float32 {
	return p.Dense2.Apply(p.Dropout.Apply(nn.ReLU(p.Dense1.Apply(vec))))
}

// MeanPooler computes a mask-weighted sum of per-token vectors divided by
// the unmasked token count (or its square root when Sqrt is set), then the
// same two-layer transform as SimplePooler.
type MeanPooler struct {
	Sqrt bool

	Dense1  *nn.Linear
	Dense2  *nn.Linear
	Dropout *nn.Dropout
}

// NewMeanPooler builds a pooler with seeded initialization from cfg.
func NewMeanPooler(cfg *Config, sqrt bool) *MeanPooler {
	rng := nn.RNG(cfg.Seed)
	return &MeanPooler{
		Sqrt:    sqrt,
		Dense1:  nn.NewLinear(cfg.DModel, cfg.DModel, rng),
		Dense2:  nn.NewLinear(cfg.DModel, cfg.DModel, rng),
		Dropout: nn.NewDropout(cfg.DropoutRate, rng),
	}
}

func (p *MeanPooler) Pool(hidden [][][]float32, mask [][]int32) ([][]float32, error) {
	if len(mask) != len(hidden) {
		return nil, fmt.Errorf("heads: %d mask rows for %d examples", len(mask), len(hidden))
	}

	out := make([][]float32, len(hidden))
	for i, seq := range hidden {
		pooled, err := maskedMean(seq, mask[i], p.Sqrt)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		out[i] = p.transform(pooled)
	}
	return out, nil
}

func (p *MeanPooler) transform(vec []float32) []float32 {
	return p.Dense2.Apply(p.Dropout.Apply(nn.ReLU(p.Dense1.Apply(vec))))
}

// maskedMean sums the unmasked vectors of one example and divides by the
// count (or sqrt of the count). A mask selecting zero tokens is an error.
func maskedMean(seq [][]float32, mask []int32, sqrt bool) ([]float32, error) {
	if len(mask) != len(seq) {
		return nil, fmt.Errorf("heads: mask length %d does not match %d tokens", len(mask), len(seq))
	}
	if len(seq) == 0 {
		return nil, ErrZeroMask
	}

	dim := len(seq[0])
	sum := make([]float64, dim)
	count := 0
	for t, vec := range seq {
		if mask[t] == 0 {
			continue
		}
		for j, v := range vec {
			sum[j] += float64(v)
		}
		count++
	}
	if count == 0 {
		return nil, ErrZeroMask
	}

	divisor := float64(count)
	if sqrt {
		divisor = math.Sqrt(divisor)
	}
	out := make([]float32, dim)
	for j := range out {
		out[j] = float32(sum[j] / divisor)
	}
	return out, nil
}
