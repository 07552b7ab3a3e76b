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

import "math/rand/v2"

// Dropout zeroes elements with probability Rate and scales survivors by
// 1/(1-Rate) (inverted dropout). Inactive unless training mode is enabled,
// so inference paths are deterministic.
type Dropout struct {
	Rate float32

	training bool
	rng      *rand.Rand
}

// NewDropout creates an inference-mode dropout layer.
func NewDropout(rate float32, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

// SetTraining toggles training mode. In inference mode Apply is the identity.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// Apply returns vec, possibly modified in place.
func (d *Dropout) Apply(vec []float32) []float32 {
	if !d.training || d.Rate <= 0 {
		return vec
	}
	scale := 1 / (1 - d.Rate)
	for i := range vec {
		if d.rng.Float32() < d.Rate {
			vec[i] = 0
		} else {
			vec[i] *= scale
		}
	}
	return vec
}

// ApplySeq applies dropout to every vector in the sequence.
func (d *Dropout) ApplySeq(seq [][]float32) [][]float32 {
	if !d.training || d.Rate <= 0 {
		return seq
	}
	for _, vec := range seq {
		d.Apply(vec)
	}
	return seq
}
