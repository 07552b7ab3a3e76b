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

package losses

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMSE(t *testing.T) {
	loss, err := MSE(
		[][]float32{{1}, {3}},
		[][]float32{{0}, {1}},
	)
	require.NoError(t, err)
	// (1 + 4) / 2
	require.InDelta(t, 2.5, loss, 1e-6)

	_, err = MSE([][]float32{{1}}, [][]float32{{1}, {2}})
	require.Error(t, err)
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	loss, err := CrossEntropy(
		[][]float32{{0, 0, 0, 0}, {1, 1, 1, 1}},
		[]int64{2, 0},
	)
	require.NoError(t, err)
	require.InDelta(t, math.Log(4), float64(loss), 1e-6)
}

func TestCrossEntropyConfidentPrediction(t *testing.T) {
	loss, err := CrossEntropy([][]float32{{100, 0, 0}}, []int64{0})
	require.NoError(t, err)
	require.InDelta(t, 0, float64(loss), 1e-6)

	_, err = CrossEntropy([][]float32{{1, 2}}, []int64{5})
	require.Error(t, err)
}

func TestBCEWithLogitsZeros(t *testing.T) {
	loss, err := BCEWithLogits(
		[][]float32{{0, 0}},
		[][]float32{{0, 1}},
	)
	require.NoError(t, err)
	require.InDelta(t, math.Log(2), float64(loss), 1e-6)
}

func TestBCEWithLogitsExtremeLogitsStayFinite(t *testing.T) {
	loss, err := BCEWithLogits(
		[][]float32{{1000, -1000}},
		[][]float32{{1, 0}},
	)
	require.NoError(t, err)
	require.False(t, math.IsNaN(float64(loss)))
	require.InDelta(t, 0, float64(loss), 1e-6)
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 1, 1})
	var sum float32
	for _, p := range probs {
		require.InDelta(t, 1.0/3.0, p, 1e-6)
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestSigmoid(t *testing.T) {
	out := Sigmoid([]float32{0, 100, -100})
	require.InDelta(t, 0.5, out[0], 1e-6)
	require.InDelta(t, 1.0, out[1], 1e-6)
	require.InDelta(t, 0.0, out[2], 1e-6)
}
