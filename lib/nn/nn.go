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

// Package nn implements the small float32 building blocks the task heads are
// assembled from: dense linear layers, ReLU, inverted dropout, and a
// safetensors weight loader.
//
// These kernels run on plain slices in the same [batch][seq][hidden] layout
// the backbone encoders produce. They are deliberately simple: all heavy
// numerical work (the encoder forward pass) happens in the execution engine,
// not here.
package nn

import "math/rand/v2"

// RNG returns a deterministic random source for the given seed. Weight
// initialization and dropout sampling share this so a head built twice from
// the same seed has identical parameters.
func RNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ReLU applies max(0, x) in place and returns the slice.
func ReLU(v []float32) []float32 {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
	return v
}

// ReLUSeq applies ReLU to every vector in the sequence.
func ReLUSeq(seq [][]float32) [][]float32 {
	for _, v := range seq {
		ReLU(v)
	}
	return seq
}
