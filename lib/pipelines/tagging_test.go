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

package pipelines

import (
	"context"
	"testing"

	"github.com/antflydb/instar/lib/heads"
	"github.com/stretchr/testify/require"
)

// fixedHead returns canned label sequences regardless of input.
type fixedHead struct {
	cfg       *heads.Config
	labels    [][]int
	emissions [][][]float32
}

func (f *fixedHead) Config() *heads.Config { return f.cfg }

func (f *fixedHead) Forward(ctx context.Context, in *heads.Input) (*heads.TokenOutput, error) {
	return &heads.TokenOutput{Labels: f.labels, Emissions: f.emissions}, nil
}

func bioConfig() *heads.Config {
	return &heads.Config{
		DModel:    8,
		NumLabels: 5,
		ID2Label: map[string]string{
			"0": "O",
			"1": "B-PER",
			"2": "I-PER",
			"3": "B-ORG",
			"4": "I-ORG",
		},
	}
}

// uniformEmissions gives every label the same score so entity scores are
// exactly 1/numLabels.
func uniformEmissions(seq, labels int) [][]float32 {
	out := make([][]float32, seq)
	for t := range out {
		out[t] = make([]float32, labels)
	}
	return out
}

func TestTagAggregatesBIORuns(t *testing.T) {
	// Tokens: "john smith works at antfly" -> PER PER O O ORG
	head := &fixedHead{
		cfg:       bioConfig(),
		labels:    [][]int{{1, 2, 0, 0, 3}},
		emissions: [][][]float32{uniformEmissions(5, 5)},
	}
	p := NewTagging(newWordTokenizer(), head)

	results, err := p.Tag(context.Background(), []string{"john smith works at antfly"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 2)

	require.Equal(t, "PER", results[0][0].Label)
	require.Equal(t, "ORG", results[0][1].Label)
	require.InDelta(t, 0.2, results[0][0].Score, 1e-6)
}

func TestTagSplitsAdjacentEntitiesOnB(t *testing.T) {
	// B-PER B-PER is two entities even without an O between them.
	head := &fixedHead{
		cfg:       bioConfig(),
		labels:    [][]int{{1, 1}},
		emissions: [][][]float32{uniformEmissions(2, 5)},
	}
	p := NewTagging(newWordTokenizer(), head)

	results, err := p.Tag(context.Background(), []string{"alice bob"})
	require.NoError(t, err)
	require.Len(t, results[0], 2)
}

func TestTagEmptyInput(t *testing.T) {
	p := NewTagging(newWordTokenizer(), &fixedHead{cfg: bioConfig()})
	results, err := p.Tag(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestAggregateUsesByteSpans(t *testing.T) {
	text := "john smith"
	spans := []TokenSpan{{Start: 0, End: 4}, {Start: 5, End: 10}}
	labels := []int{1, 2}

	entities := aggregate(text, labels, uniformEmissions(2, 5), spans, bioConfig())
	require.Len(t, entities, 1)
	require.Equal(t, "john smith", entities[0].Text)
	require.Equal(t, 0, entities[0].Start)
	require.Equal(t, 10, entities[0].End)
}

func TestAggregateUnprefixedLabels(t *testing.T) {
	cfg := &heads.Config{
		DModel:    8,
		NumLabels: 2,
		ID2Label:  map[string]string{"0": "O", "1": "MENTION"},
	}

	entities := aggregate("a b c", []int{1, 1, 0}, uniformEmissions(3, 2), nil, cfg)
	require.Len(t, entities, 1)
	require.Equal(t, "MENTION", entities[0].Label)
}
