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
	"fmt"

	"github.com/antflydb/instar/lib/backbone"
	"github.com/antflydb/instar/lib/crf"
	"github.com/antflydb/instar/lib/nn"
)

// SpanTagger is the span-conditioned CRF head used for coreference
// resolution: the hidden vectors of one entity span per example are averaged,
// projected, and broadcast across every position; each per-token hidden
// vector is concatenated with the span vector before classification and CRF
// decoding. Every position is thus tagged relative to the given mention.
type SpanTagger struct {
	cfg     *Config
	encoder backbone.Backbone

	fc         *nn.Linear
	dropout    *nn.Dropout
	classifier *nn.Linear
	crf        *crf.CRF
}

// NewSpanTagger builds the head over an encoder held by reference.
func NewSpanTagger(cfg *Config, encoder backbone.Backbone) (*SpanTagger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := crf.New(cfg.NumLabels)
	if err != nil {
		return nil, err
	}

	rng := nn.RNG(cfg.Seed)
	return &SpanTagger{
		cfg:        cfg,
		encoder:    encoder,
		fc:         nn.NewLinear(cfg.DModel, cfg.DModel, rng),
		dropout:    nn.NewDropout(cfg.DropoutRate, rng),
		classifier: nn.NewLinear(2*cfg.DModel, cfg.NumLabels, rng),
		crf:        c,
	}, nil
}

// Config returns the head configuration.
func (h *SpanTagger) Config() *Config { return h.cfg }

// Close releases the encoder.
func (h *SpanTagger) Close() error { return h.encoder.Close() }

// LoadWeights installs trained parameters: fc.weight [D, D], fc.bias [D],
// classifier.weight [L, 2D], classifier.bias [L], plus the CRF triple.
func (h *SpanTagger) LoadWeights(tensors map[string]*nn.Tensor) error {
	if w, ok := tensors["fc.weight"]; ok {
		if err := h.fc.LoadTensor(w, tensors["fc.bias"]); err != nil {
			return err
		}
	}
	if w, ok := tensors["classifier.weight"]; ok {
		if err := h.classifier.LoadTensor(w, tensors["classifier.bias"]); err != nil {
			return err
		}
	}
	return loadCRFWeights(h.crf, tensors)
}

// Forward runs the head. EntitySpans must supply exactly one non-empty span
// per example.
func (h *SpanTagger) Forward(ctx context.Context, in *Input) (*TokenOutput, error) {
	mask, err := fullMask(in)
	if err != nil {
		return nil, err
	}

	encoded, err := h.encoder.Encode(ctx, &backbone.Inputs{
		InputIDs:           in.InputIDs,
		AttentionMask:      mask,
		InputEmbeds:        in.InputEmbeds,
		OutputHiddenStates: in.OutputHiddenStates,
		OutputAttentions:   in.OutputAttentions,
	})
	if err != nil {
		return nil, fmt.Errorf("heads: encoder: %w", err)
	}

	hidden := encoded.LastHiddenState
	if len(in.EntitySpans) != len(hidden) {
		return nil, fmt.Errorf("heads: %d entity spans for %d examples", len(in.EntitySpans), len(hidden))
	}

	emissions := make([][][]float32, len(hidden))
	for i, seq := range hidden {
		mention, err := spanMean(seq, in.EntitySpans[i])
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		mention = h.dropout.Apply(h.fc.Apply(mention))

		// Concatenate the span vector with every per-token vector.
		emissions[i] = make([][]float32, len(seq))
		for t, vec := range seq {
			joined := make([]float32, 0, 2*h.cfg.DModel)
			joined = append(joined, vec...)
			joined = append(joined, mention...)
			emissions[i][t] = h.classifier.Apply(joined)
		}
	}

	out := &TokenOutput{
		Emissions:    emissions,
		HiddenStates: encoded.HiddenStates,
		Attentions:   encoded.Attentions,
	}
	bmask := boolMask(mask)

	if in.Labels != nil {
		if in.Labels.TokenIDs == nil {
			return nil, fmt.Errorf("%w: tagging requires per-token label ids", ErrLabelKind)
		}
		ll, err := h.crf.LogLikelihood(emissions, in.Labels.TokenIDs, bmask)
		if err != nil {
			return nil, err
		}
		loss := -ll
		out.Loss = &loss
	}

	out.Labels, err = h.crf.Decode(emissions, bmask)
	if err != nil {
		return nil, err
	}
	return out, nil
}
