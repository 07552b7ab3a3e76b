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

// Package crf implements a linear-chain conditional random field over
// per-token emission scores: sequence log-likelihood via the forward
// algorithm and best-path decoding via Viterbi.
//
// Emissions have shape [batch][seq][labels]. The boolean mask marks real
// (non-padding) tokens and must be a non-empty prefix of each sequence.
// Accumulation is float64 for numerical stability; parameters are float32 to
// match the rest of the model stack.
package crf

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/antflydb/instar/lib/nn"
)

// ErrBadMask indicates a mask that is empty or not a contiguous prefix.
var ErrBadMask = errors.New("crf: mask must be a non-empty prefix of the sequence")

// CRF holds the transition parameters of a linear-chain CRF.
type CRF struct {
	NumLabels int

	// Start and End are the scores for a sequence beginning or ending with
	// each label. Transitions[i][j] scores label i followed by label j.
	Start       []float32
	End         []float32
	Transitions [][]float32
}

// New creates a CRF with zero-valued parameters.
func New(numLabels int) (*CRF, error) {
	if numLabels < 1 {
		return nil, fmt.Errorf("crf: numLabels must be >= 1, got %d", numLabels)
	}
	c := &CRF{
		NumLabels:   numLabels,
		Start:       make([]float32, numLabels),
		End:         make([]float32, numLabels),
		Transitions: make([][]float32, numLabels),
	}
	for i := range c.Transitions {
		c.Transitions[i] = make([]float32, numLabels)
	}
	return c, nil
}

// NewRandom creates a CRF with parameters drawn uniformly from (-0.1, 0.1).
func NewRandom(numLabels int, rng *rand.Rand) (*CRF, error) {
	c, err := New(numLabels)
	if err != nil {
		return nil, err
	}
	sample := func() float32 { return float32(rng.Float64()*0.2 - 0.1) }
	for i := 0; i < numLabels; i++ {
		c.Start[i] = sample()
		c.End[i] = sample()
		for j := 0; j < numLabels; j++ {
			c.Transitions[i][j] = sample()
		}
	}
	return c, nil
}

// LoadTensors replaces the CRF parameters from safetensors-style tensors:
// start [L], end [L], transitions [L, L].
func (c *CRF) LoadTensors(start, end, transitions *nn.Tensor) error {
	l := c.NumLabels
	if len(start.Shape) != 1 || start.Shape[0] != l {
		return fmt.Errorf("crf: start shape %v does not match [%d]", start.Shape, l)
	}
	if len(end.Shape) != 1 || end.Shape[0] != l {
		return fmt.Errorf("crf: end shape %v does not match [%d]", end.Shape, l)
	}
	if len(transitions.Shape) != 2 || transitions.Shape[0] != l || transitions.Shape[1] != l {
		return fmt.Errorf("crf: transitions shape %v does not match [%d, %d]", transitions.Shape, l, l)
	}
	c.Start = start.Data
	c.End = end.Data
	for i := 0; i < l; i++ {
		c.Transitions[i] = transitions.Data[i*l : (i+1)*l]
	}
	return nil
}

// LogLikelihood returns the log-likelihood of the given label sequences under
// the CRF, summed over the batch. Callers negate it to obtain a training
// loss; the result is always <= 0 up to floating point error.
func (c *CRF) LogLikelihood(emissions [][][]float32, labels [][]int64, mask [][]bool) (float32, error) {
	if len(labels) != len(emissions) || len(mask) != len(emissions) {
		return 0, fmt.Errorf("crf: batch sizes differ: emissions=%d labels=%d mask=%d",
			len(emissions), len(labels), len(mask))
	}

	var total float64
	for i := range emissions {
		seqLen, err := c.checkSequence(emissions[i], mask[i])
		if err != nil {
			return 0, fmt.Errorf("example %d: %w", i, err)
		}
		if len(labels[i]) < seqLen {
			return 0, fmt.Errorf("crf: example %d: %d labels for %d unmasked tokens", i, len(labels[i]), seqLen)
		}
		for t := 0; t < seqLen; t++ {
			if labels[i][t] < 0 || labels[i][t] >= int64(c.NumLabels) {
				return 0, fmt.Errorf("crf: example %d: label %d out of range [0, %d)", i, labels[i][t], c.NumLabels)
			}
		}

		score := c.sequenceScore(emissions[i], labels[i], seqLen)
		logZ := c.partition(emissions[i], seqLen)
		total += score - logZ
	}
	return float32(total), nil
}

// Decode returns the highest-scoring label sequence for each example,
// restricted to unmasked tokens. Output lengths match the mask, so decoded
// sequences are variable-length within a batch.
func (c *CRF) Decode(emissions [][][]float32, mask [][]bool) ([][]int, error) {
	if len(mask) != len(emissions) {
		return nil, fmt.Errorf("crf: batch sizes differ: emissions=%d mask=%d", len(emissions), len(mask))
	}

	decoded := make([][]int, len(emissions))
	for i := range emissions {
		seqLen, err := c.checkSequence(emissions[i], mask[i])
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		decoded[i] = c.viterbi(emissions[i], seqLen)
	}
	return decoded, nil
}

// checkSequence validates one example and returns its unmasked length.
func (c *CRF) checkSequence(emissions [][]float32, mask []bool) (int, error) {
	if len(mask) != len(emissions) {
		return 0, fmt.Errorf("crf: mask length %d does not match sequence length %d", len(mask), len(emissions))
	}
	seqLen := 0
	for t, m := range mask {
		if m {
			if t != seqLen {
				return 0, ErrBadMask
			}
			seqLen++
		}
	}
	if seqLen == 0 {
		return 0, ErrBadMask
	}
	for t := 0; t < seqLen; t++ {
		if len(emissions[t]) != c.NumLabels {
			return 0, fmt.Errorf("crf: emission width %d at position %d, expected %d", len(emissions[t]), t, c.NumLabels)
		}
	}
	return seqLen, nil
}

// sequenceScore computes the unnormalized score of one label path.
func (c *CRF) sequenceScore(emissions [][]float32, labels []int64, seqLen int) float64 {
	prev := labels[0]
	score := float64(c.Start[prev]) + float64(emissions[0][prev])
	for t := 1; t < seqLen; t++ {
		cur := labels[t]
		score += float64(c.Transitions[prev][cur]) + float64(emissions[t][cur])
		prev = cur
	}
	score += float64(c.End[prev])
	return score
}

// partition computes log Z with the forward algorithm.
func (c *CRF) partition(emissions [][]float32, seqLen int) float64 {
	l := c.NumLabels
	alpha := make([]float64, l)
	for j := 0; j < l; j++ {
		alpha[j] = float64(c.Start[j]) + float64(emissions[0][j])
	}

	next := make([]float64, l)
	scores := make([]float64, l)
	for t := 1; t < seqLen; t++ {
		for j := 0; j < l; j++ {
			for i := 0; i < l; i++ {
				scores[i] = alpha[i] + float64(c.Transitions[i][j])
			}
			next[j] = logSumExp(scores) + float64(emissions[t][j])
		}
		alpha, next = next, alpha
	}

	for j := 0; j < l; j++ {
		scores[j] = alpha[j] + float64(c.End[j])
	}
	return logSumExp(scores)
}

// viterbi returns the best label path for one example.
func (c *CRF) viterbi(emissions [][]float32, seqLen int) []int {
	l := c.NumLabels

	score := make([]float64, l)
	for j := 0; j < l; j++ {
		score[j] = float64(c.Start[j]) + float64(emissions[0][j])
	}

	backptr := make([][]int, seqLen)
	next := make([]float64, l)
	for t := 1; t < seqLen; t++ {
		backptr[t] = make([]int, l)
		for j := 0; j < l; j++ {
			best := math.Inf(-1)
			bestPrev := 0
			for i := 0; i < l; i++ {
				s := score[i] + float64(c.Transitions[i][j])
				if s > best {
					best = s
					bestPrev = i
				}
			}
			next[j] = best + float64(emissions[t][j])
			backptr[t][j] = bestPrev
		}
		score, next = next, score
	}

	bestLast := 0
	best := math.Inf(-1)
	for j := 0; j < l; j++ {
		if s := score[j] + float64(c.End[j]); s > best {
			best = s
			bestLast = j
		}
	}

	path := make([]int, seqLen)
	path[seqLen-1] = bestLast
	for t := seqLen - 1; t > 0; t-- {
		path[t-1] = backptr[t][path[t]]
	}
	return path
}

func logSumExp(scores []float64) float64 {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - maxScore)
	}
	return maxScore + math.Log(sum)
}
