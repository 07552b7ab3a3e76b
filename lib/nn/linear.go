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

package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Linear is a dense layer y = Wx + b with row-major weights [Out][In].
type Linear struct {
	In  int
	Out int

	// Weight is row-major: Weight[i*In : (i+1)*In] is the i-th output row.
	Weight []float32
	Bias   []float32
}

// NewLinear creates a layer with uniform(-k, k) initialization, k = 1/sqrt(in),
// drawn from rng.
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: make([]float32, in*out),
		Bias:   make([]float32, out),
	}
	k := 1.0 / math.Sqrt(float64(in))
	for i := range l.Weight {
		l.Weight[i] = float32((rng.Float64()*2 - 1) * k)
	}
	for i := range l.Bias {
		l.Bias[i] = float32((rng.Float64()*2 - 1) * k)
	}
	return l
}

// NewIdentityLinear creates a square layer with identity weights and zero
// bias. Used by tests to make the surrounding transform a no-op.
func NewIdentityLinear(dim int) *Linear {
	l := &Linear{
		In:     dim,
		Out:    dim,
		Weight: make([]float32, dim*dim),
		Bias:   make([]float32, dim),
	}
	for i := 0; i < dim; i++ {
		l.Weight[i*dim+i] = 1
	}
	return l
}

// Apply computes Wx + b for a single vector.
func (l *Linear) Apply(vec []float32) []float32 {
	out := make([]float32, l.Out)
	for i := 0; i < l.Out; i++ {
		row := l.Weight[i*l.In : (i+1)*l.In]
		sum := float64(l.Bias[i])
		for j, w := range row {
			sum += float64(w) * float64(vec[j])
		}
		out[i] = float32(sum)
	}
	return out
}

// ApplySeq applies the layer to each position of a [seq][in] slice.
func (l *Linear) ApplySeq(seq [][]float32) [][]float32 {
	out := make([][]float32, len(seq))
	for t, vec := range seq {
		out[t] = l.Apply(vec)
	}
	return out
}

// ApplyBatch applies the layer to each vector of a [batch][in] slice.
func (l *Linear) ApplyBatch(batch [][]float32) [][]float32 {
	return l.ApplySeq(batch)
}

// LoadTensor replaces the layer parameters from a weight tensor of shape
// [Out, In] and an optional bias tensor of shape [Out].
func (l *Linear) LoadTensor(weight, bias *Tensor) error {
	if len(weight.Shape) != 2 || weight.Shape[0] != l.Out || weight.Shape[1] != l.In {
		return fmt.Errorf("linear: weight shape %v does not match [%d, %d]", weight.Shape, l.Out, l.In)
	}
	l.Weight = weight.Data
	if bias != nil {
		if len(bias.Shape) != 1 || bias.Shape[0] != l.Out {
			return fmt.Errorf("linear: bias shape %v does not match [%d]", bias.Shape, l.Out)
		}
		l.Bias = bias.Data
	}
	return nil
}
