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
	"context"
	"math"
	"testing"

	"github.com/antflydb/instar/lib/backbone"
	"github.com/antflydb/instar/lib/nn"
	"github.com/stretchr/testify/require"
)

// stubEncoder returns fixed hidden states, ignoring the token IDs.
type stubEncoder struct {
	hidden [][][]float32
}

func (s *stubEncoder) Encode(ctx context.Context, in *backbone.Inputs) (*backbone.Output, error) {
	out := &backbone.Output{LastHiddenState: s.hidden}
	if in.OutputHiddenStates {
		out.HiddenStates = [][][][]float32{s.hidden}
	}
	if in.OutputAttentions {
		out.Attentions = make([][][][][]float32, 1)
	}
	return out, nil
}

func (s *stubEncoder) HiddenSize() int {
	if len(s.hidden) > 0 && len(s.hidden[0]) > 0 {
		return len(s.hidden[0][0])
	}
	return 0
}

func (s *stubEncoder) Name() string { return "stub" }

func (s *stubEncoder) Close() error { return nil }

// randomHidden builds a deterministic [batch][seq][dim] block.
func randomHidden(seed uint64, batch, seq, dim int) [][][]float32 {
	rng := nn.RNG(seed)
	out := make([][][]float32, batch)
	for i := range out {
		out[i] = make([][]float32, seq)
		for t := range out[i] {
			out[i][t] = make([]float32, dim)
			for j := range out[i][t] {
				out[i][t][j] = float32(rng.Float64()*2 - 1)
			}
		}
	}
	return out
}

func tagConfig(numLabels int) *Config {
	return &Config{DModel: 8, NumLabels: numLabels, DropoutRate: 0.1, Seed: 3}
}

func TestEntityTaggerDecodedLengthsAndLoss(t *testing.T) {
	enc := &stubEncoder{hidden: randomHidden(5, 2, 4, 8)}
	h, err := NewEntityTagger(tagConfig(3), enc)
	require.NoError(t, err)

	in := &Input{
		InputIDs:      [][]int32{{1, 2, 3, 4}, {5, 6, 0, 0}},
		AttentionMask: [][]int32{{1, 1, 1, 1}, {1, 1, 0, 0}},
		Labels: &Labels{TokenIDs: [][]int64{
			{0, 1, 2, 1},
			{2, 0, 0, 0},
		}},
	}

	out, err := h.Forward(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.Labels, 2)
	require.Len(t, out.Labels[0], 4)
	require.Len(t, out.Labels[1], 2)

	require.NotNil(t, out.Loss)
	loss := float64(*out.Loss)
	require.False(t, math.IsNaN(loss))
	require.False(t, math.IsInf(loss, 0))
	require.Greater(t, loss, 0.0)
}

func TestEntityTaggerDecodeOnlyWithoutLabels(t *testing.T) {
	enc := &stubEncoder{hidden: randomHidden(5, 1, 3, 8)}
	h, err := NewEntityTagger(tagConfig(3), enc)
	require.NoError(t, err)

	out, err := h.Forward(context.Background(), &Input{
		InputIDs: [][]int32{{1, 2, 3}},
	})
	require.NoError(t, err)
	require.Nil(t, out.Loss)
	require.Len(t, out.Labels[0], 3)
}

func TestEntityTaggerRejectsWrongLabelKind(t *testing.T) {
	enc := &stubEncoder{hidden: randomHidden(5, 1, 3, 8)}
	h, err := NewEntityTagger(tagConfig(3), enc)
	require.NoError(t, err)

	_, err = h.Forward(context.Background(), &Input{
		InputIDs: [][]int32{{1, 2, 3}},
		Labels:   &Labels{ClassIDs: []int64{1}},
	})
	require.ErrorIs(t, err, ErrLabelKind)
}

func TestEntityTaggerForwardsEncoderOutputs(t *testing.T) {
	enc := &stubEncoder{hidden: randomHidden(5, 1, 3, 8)}
	h, err := NewEntityTagger(tagConfig(3), enc)
	require.NoError(t, err)

	out, err := h.Forward(context.Background(), &Input{
		InputIDs:           [][]int32{{1, 2, 3}},
		OutputHiddenStates: true,
		OutputAttentions:   true,
	})
	require.NoError(t, err)
	require.Len(t, out.HiddenStates, 1)
	require.Equal(t, enc.hidden, out.HiddenStates[0])
	require.NotNil(t, out.Attentions)

	// Without the request flags the intermediate outputs stay unset.
	out, err = h.Forward(context.Background(), &Input{InputIDs: [][]int32{{1, 2, 3}}})
	require.NoError(t, err)
	require.Nil(t, out.HiddenStates)
	require.Nil(t, out.Attentions)
}

func TestSpanTaggerForward(t *testing.T) {
	enc := &stubEncoder{hidden: randomHidden(9, 2, 5, 8)}
	h, err := NewSpanTagger(tagConfig(2), enc)
	require.NoError(t, err)

	in := &Input{
		InputIDs:      [][]int32{{1, 2, 3, 4, 5}, {6, 7, 8, 0, 0}},
		AttentionMask: [][]int32{{1, 1, 1, 1, 1}, {1, 1, 1, 0, 0}},
		EntitySpans:   []Span{{Start: 1, End: 3}, {Start: 0, End: 2}},
		Labels: &Labels{TokenIDs: [][]int64{
			{0, 1, 1, 0, 0},
			{1, 0, 0, 0, 0},
		}},
	}

	out, err := h.Forward(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Loss)
	require.Greater(t, *out.Loss, float32(0))
	require.Len(t, out.Labels[0], 5)
	require.Len(t, out.Labels[1], 3)
}

func TestSpanTaggerRejectsEmptySpan(t *testing.T) {
	enc := &stubEncoder{hidden: randomHidden(9, 1, 4, 8)}
	h, err := NewSpanTagger(tagConfig(2), enc)
	require.NoError(t, err)

	_, err = h.Forward(context.Background(), &Input{
		InputIDs:    [][]int32{{1, 2, 3, 4}},
		EntitySpans: []Span{{Start: 2, End: 2}},
	})
	require.ErrorIs(t, err, ErrEmptySpan)

	_, err = h.Forward(context.Background(), &Input{
		InputIDs: [][]int32{{1, 2, 3, 4}},
	})
	require.Error(t, err, "span count mismatch")
}

func relationInput() *Input {
	return &Input{
		InputIDs:      [][]int32{{1, 2, 3, 4, 5, 6}},
		AttentionMask: [][]int32{{1, 1, 1, 1, 1, 1}},
		SubjectSpans:  []Span{{Start: 0, End: 2}},
		ObjectSpans:   []Span{{Start: 3, End: 5}},
	}
}

func TestRelationSubjectObjectAsymmetry(t *testing.T) {
	enc := &stubEncoder{hidden: randomHidden(13, 1, 6, 8)}
	cfg := &Config{DModel: 8, NumLabels: 4, DropoutRate: 0.1, Seed: 21}

	h, err := NewMeanRelationClassifier(cfg, enc)
	require.NoError(t, err)

	in := relationInput()
	out, err := h.Forward(context.Background(), in)
	require.NoError(t, err)

	swapped := relationInput()
	swapped.SubjectSpans, swapped.ObjectSpans = swapped.ObjectSpans, swapped.SubjectSpans
	outSwapped, err := h.Forward(context.Background(), swapped)
	require.NoError(t, err)

	require.NotEqual(t, out.Logits, outSwapped.Logits,
		"swapping subject and object spans must change the logits")
}

func TestMeanRelationSentencePoolsBySqrtLength(t *testing.T) {
	cfg := &Config{DModel: 2, NumLabels: 2, Seed: 7}
	h, err := NewMeanRelationClassifier(cfg, &stubEncoder{hidden: randomHidden(3, 1, 4, 2)})
	require.NoError(t, err)

	mp, ok := h.pooler.(*MeanPooler)
	require.True(t, ok)
	require.True(t, mp.Sqrt, "sentence pooling divides by sqrt of the token count")

	// Four identical tokens: sum/sqrt(4) doubles the token value, a plain
	// mean would reproduce it.
	mp.Dense1 = nn.NewIdentityLinear(2)
	mp.Dense2 = nn.NewIdentityLinear(2)
	pooled, err := mp.Pool([][][]float32{{{2, 2}, {2, 2}, {2, 2}, {2, 2}}}, [][]int32{{1, 1, 1, 1}})
	require.NoError(t, err)
	require.InDelta(t, 4.0, float64(pooled[0][0]), 1e-6)
}

func TestRelationSentenceDropoutActiveInTraining(t *testing.T) {
	cfg := &Config{DModel: 8, NumLabels: 4, DropoutRate: 0.5, Seed: 3}
	h, err := NewMeanRelationClassifier(cfg, &stubEncoder{hidden: randomHidden(13, 1, 6, 8)})
	require.NoError(t, err)

	in := relationInput()
	base, err := h.Forward(context.Background(), in)
	require.NoError(t, err)

	// The mean variant drops out only the pooled sentence vector, so a
	// training-mode difference pins the sentence dropout path.
	h.dropout.SetTraining(true)
	trained, err := h.Forward(context.Background(), in)
	require.NoError(t, err)
	require.NotEqual(t, base.Logits, trained.Logits)
}

func TestRelationProblemTypeInference(t *testing.T) {
	hidden := randomHidden(13, 1, 6, 8)

	t.Run("regression when one label", func(t *testing.T) {
		cfg := &Config{DModel: 8, NumLabels: 1, Seed: 1}
		h, err := NewMeanRelationClassifier(cfg, &stubEncoder{hidden: hidden})
		require.NoError(t, err)
		require.Empty(t, h.ProblemType())

		in := relationInput()
		in.Labels = &Labels{Values: [][]float32{{0.5}}}
		out, err := h.Forward(context.Background(), in)
		require.NoError(t, err)
		require.NotNil(t, out.Loss)
		require.Equal(t, ProblemRegression, h.ProblemType())
	})

	t.Run("cross-entropy for integer labels", func(t *testing.T) {
		cfg := &Config{DModel: 8, NumLabels: 4, Seed: 1}
		h, err := NewMeanRelationClassifier(cfg, &stubEncoder{hidden: hidden})
		require.NoError(t, err)

		in := relationInput()
		in.Labels = &Labels{ClassIDs: []int64{2}}
		out, err := h.Forward(context.Background(), in)
		require.NoError(t, err)
		require.NotNil(t, out.Loss)
		require.Equal(t, ProblemSingleLabel, h.ProblemType())
	})

	t.Run("multi-label for float labels", func(t *testing.T) {
		cfg := &Config{DModel: 8, NumLabels: 4, Seed: 1}
		h, err := NewMeanRelationClassifier(cfg, &stubEncoder{hidden: hidden})
		require.NoError(t, err)

		in := relationInput()
		in.Labels = &Labels{Values: [][]float32{{1, 0, 0, 1}}}
		out, err := h.Forward(context.Background(), in)
		require.NoError(t, err)
		require.NotNil(t, out.Loss)
		require.Equal(t, ProblemMultiLabel, h.ProblemType())
	})
}

func TestRelationProblemTypePersistsAcrossCalls(t *testing.T) {
	cfg := &Config{DModel: 8, NumLabels: 4, Seed: 1}
	h, err := NewMeanRelationClassifier(cfg, &stubEncoder{hidden: randomHidden(13, 1, 6, 8)})
	require.NoError(t, err)

	in := relationInput()
	in.Labels = &Labels{ClassIDs: []int64{2}}
	_, err = h.Forward(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, ProblemSingleLabel, h.ProblemType())

	// A later call with a different label kind does not re-infer; it fails.
	in.Labels = &Labels{Values: [][]float32{{1, 0, 0, 1}}}
	_, err = h.Forward(context.Background(), in)
	require.ErrorIs(t, err, ErrLabelKind)
	require.Equal(t, ProblemSingleLabel, h.ProblemType())
}

func TestRelationConfiguredProblemTypeWins(t *testing.T) {
	cfg := &Config{DModel: 8, NumLabels: 4, ProblemType: ProblemMultiLabel, Seed: 1}
	h, err := NewMeanRelationClassifier(cfg, &stubEncoder{hidden: randomHidden(13, 1, 6, 8)})
	require.NoError(t, err)
	require.Equal(t, ProblemMultiLabel, h.ProblemType())

	in := relationInput()
	in.Labels = &Labels{ClassIDs: []int64{2}}
	_, err = h.Forward(context.Background(), in)
	require.ErrorIs(t, err, ErrLabelKind)
}

func TestRegisteredArchitectures(t *testing.T) {
	for _, name := range []string{
		"EncoderForEntityRecognitionWithCRF",
		"EncoderForCorefResolutionWithCRF",
		"EncoderForRelationClassification",
		"EncoderForRelationClassificationMean",
	} {
		c, err := Resolve(name)
		require.NoError(t, err, name)
		require.NotNil(t, c, name)
	}

	// Composite locators resolve through the namespace.
	c, err := Resolve("instar/heads:entity_tagger")
	require.NoError(t, err)
	enc := &stubEncoder{hidden: randomHidden(1, 1, 2, 8)}
	h, err := c(tagConfig(3), enc)
	require.NoError(t, err)
	_, ok := h.(*EntityTagger)
	require.True(t, ok)
}
