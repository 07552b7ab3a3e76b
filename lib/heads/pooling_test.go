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
	"testing"

	"github.com/antflydb/instar/lib/nn"
	"github.com/stretchr/testify/require"
)

// identityMeanPooler makes the two-layer transform a no-op so the raw pooled
// vector is observable. Inputs must be non-negative so ReLU passes through.
func identityMeanPooler(dim int, sqrt bool) *MeanPooler {
	return &MeanPooler{
		Sqrt:    sqrt,
		Dense1:  nn.NewIdentityLinear(dim),
		Dense2:  nn.NewIdentityLinear(dim),
		Dropout: nn.NewDropout(0, nn.RNG(0)),
	}
}

func TestMeanPoolerFullMaskIsArithmeticMean(t *testing.T) {
	p := identityMeanPooler(2, false)

	hidden := [][][]float32{{
		{1, 2},
		{3, 4},
		{5, 6},
	}}
	mask := [][]int32{{1, 1, 1}}

	out, err := p.Pool(hidden, mask)
	require.NoError(t, err)
	require.InDelta(t, 3.0, out[0][0], 1e-6)
	require.InDelta(t, 4.0, out[0][1], 1e-6)
}

func TestMeanPoolerSingleTokenReducesToThatToken(t *testing.T) {
	hidden := [][][]float32{{
		{9, 9},
		{1, 2},
		{9, 9},
	}}
	mask := [][]int32{{0, 1, 0}}

	for _, sqrt := range []bool{false, true} {
		p := identityMeanPooler(2, sqrt)
		out, err := p.Pool(hidden, mask)
		require.NoError(t, err)
		require.InDelta(t, 1.0, out[0][0], 1e-6, "sqrt=%v", sqrt)
		require.InDelta(t, 2.0, out[0][1], 1e-6, "sqrt=%v", sqrt)
	}
}

func TestMeanPoolerZeroMaskFails(t *testing.T) {
	p := identityMeanPooler(2, false)
	_, err := p.Pool([][][]float32{{{1, 2}}}, [][]int32{{0}})
	require.ErrorIs(t, err, ErrZeroMask)
}

func TestSimplePoolerUsesLeadingToken(t *testing.T) {
	p := &SimplePooler{
		Dense1:  nn.NewIdentityLinear(2),
		Dense2:  nn.NewIdentityLinear(2),
		Dropout: nn.NewDropout(0, nn.RNG(0)),
	}

	hidden := [][][]float32{{
		{7, 8},
		{1, 1},
	}}

	// The mask is accepted but ignored.
	out, err := p.Pool(hidden, [][]int32{{0, 0}})
	require.NoError(t, err)
	require.InDelta(t, 7.0, out[0][0], 1e-6)
	require.InDelta(t, 8.0, out[0][1], 1e-6)
}

func TestPoolersDeterministicFromSeed(t *testing.T) {
	cfg := &Config{DModel: 4, NumLabels: 2, Seed: 11}

	hidden := [][][]float32{{{1, 2, 3, 4}, {5, 6, 7, 8}}}
	mask := [][]int32{{1, 1}}

	a, err := NewMeanPooler(cfg, false).Pool(hidden, mask)
	require.NoError(t, err)
	b, err := NewMeanPooler(cfg, false).Pool(hidden, mask)
	require.NoError(t, err)
	require.Equal(t, a, b)
}
