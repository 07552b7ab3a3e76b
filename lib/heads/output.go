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

// Package heads implements task heads over a pretrained sequence encoder:
// CRF-based entity tagging, span-conditioned CRF tagging for coreference,
// and relation classification from subject/object entity spans. Heads hold
// a backbone by reference and compose it with small feed-forward layers.
package heads

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the heads.
var (
	// ErrEmptySpan indicates a missing or empty (start >= end) entity span.
	ErrEmptySpan = errors.New("heads: entity span must be non-empty (start < end)")

	// ErrZeroMask indicates an attention mask selecting no tokens for an
	// example, which makes mean pooling undefined.
	ErrZeroMask = errors.New("heads: attention mask selects zero tokens")

	// ErrLabelKind indicates labels whose kind does not match the head's
	// resolved problem type.
	ErrLabelKind = errors.New("heads: label kind does not match problem type")
)

// Span is a half-open token index range [Start, End) identifying one entity
// mention.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the span covers no tokens.
func (s Span) Empty() bool { return s.Start >= s.End }

// Labels carries ground truth for a labeled forward call. Exactly one field
// is set, and which one determines the label kind for problem-type
// inference: TokenIDs for CRF heads, ClassIDs for single-label
// classification, Values for regression and multi-label targets.
type Labels struct {
	TokenIDs [][]int64
	ClassIDs []int64
	Values   [][]float32
}

// Input is the argument bag for a head forward call. InputIDs and
// AttentionMask are [batch][seq]; a nil mask means all tokens are real.
type Input struct {
	InputIDs      [][]int32
	AttentionMask [][]int32

	// InputEmbeds bypasses the backbone's embedding lookup when supported.
	InputEmbeds [][][]float32

	// EntitySpans supplies one span per example for the span-conditioned
	// tagging head.
	EntitySpans []Span

	// SubjectSpans and ObjectSpans supply one span each per example for the
	// relation heads.
	SubjectSpans []Span
	ObjectSpans  []Span

	// OutputHiddenStates and OutputAttentions forward the corresponding
	// encoder outputs when the backbone supports them.
	OutputHiddenStates bool
	OutputAttentions   bool

	Labels *Labels
}

// TokenOutput is the result of a CRF tagging head: per-example decoded label
// sequences, variable length, restricted to unmasked tokens.
type TokenOutput struct {
	// Loss is the negated CRF log-likelihood, set only when labels were given.
	Loss *float32

	Labels [][]int

	// Emissions are the per-token, per-label scores fed to the CRF.
	Emissions [][][]float32

	// HiddenStates and Attentions are the encoder's intermediate outputs,
	// set only when requested on the Input.
	HiddenStates [][][][]float32
	Attentions   [][][][][]float32
}

// SequenceOutput is the result of a relation classification head.
type SequenceOutput struct {
	Loss *float32

	// Logits is [batch][num_labels].
	Logits [][]float32
}

// fullMask returns the attention mask, defaulting to all-ones over the
// input shape when nil.
func fullMask(in *Input) ([][]int32, error) {
	if in.AttentionMask != nil {
		return in.AttentionMask, nil
	}
	rows := len(in.InputIDs)
	if rows == 0 && in.InputEmbeds != nil {
		rows = len(in.InputEmbeds)
	}
	if rows == 0 {
		return nil, fmt.Errorf("heads: no input ids or embeddings")
	}

	mask := make([][]int32, rows)
	for i := range mask {
		var seq int
		if in.InputIDs != nil {
			seq = len(in.InputIDs[i])
		} else {
			seq = len(in.InputEmbeds[i])
		}
		mask[i] = make([]int32, seq)
		for j := range mask[i] {
			mask[i][j] = 1
		}
	}
	return mask, nil
}

// boolMask converts an int mask to the boolean form the CRF consumes.
func boolMask(mask [][]int32) [][]bool {
	out := make([][]bool, len(mask))
	for i, row := range mask {
		out[i] = make([]bool, len(row))
		for j, v := range row {
			out[i][j] = v != 0
		}
	}
	return out
}

// spanMean averages the hidden vectors covered by a span.
func spanMean(hidden [][]float32, span Span) ([]float32, error) {
	if span.Empty() || span.Start < 0 || span.End > len(hidden) {
		return nil, fmt.Errorf("%w: [%d, %d) over %d tokens", ErrEmptySpan, span.Start, span.End, len(hidden))
	}

	dim := len(hidden[span.Start])
	sum := make([]float64, dim)
	for t := span.Start; t < span.End; t++ {
		for j, v := range hidden[t] {
			sum[j] += float64(v)
		}
	}

	count := float64(span.End - span.Start)
	out := make([]float32, dim)
	for j := range out {
		out[j] = float32(sum[j] / count)
	}
	return out, nil
}
