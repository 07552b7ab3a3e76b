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

// EntityTagger is the CRF entity recognition head: encoder hidden states run
// through dropout and a linear projection to per-label emission scores,
// decoded with a linear-chain CRF. Labeled calls also return the negated
// sequence log-likelihood as the loss.
type EntityTagger struct {
	cfg     *Config
	encoder backbone.Backbone

	dropout    *nn.Dropout
	classifier *nn.Linear
	crf        *crf.CRF
}

// NewEntityTagger builds the head over an encoder held by reference.
func NewEntityTagger(cfg *Config, encoder backbone.Backbone) (*EntityTagger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := crf.New(cfg.NumLabels)
	if err != nil {
		return nil, err
	}

	rng := nn.RNG(cfg.Seed)
	return &EntityTagger{
		cfg:        cfg,
		encoder:    encoder,
		dropout:    nn.NewDropout(cfg.DropoutRate, rng),
		classifier: nn.NewLinear(cfg.DModel, cfg.NumLabels, rng),
		crf:        c,
	}, nil
}

// Config returns the head configuration.
func (h *EntityTagger) Config() *Config { return h.cfg }

// Close releases the encoder.
func (h *EntityTagger) Close() error { return h.encoder.Close() }

// LoadWeights installs trained parameters: classifier.weight [L, D],
// classifier.bias [L], crf.start [L], crf.end [L], crf.transitions [L, L].
func (h *EntityTagger) LoadWeights(tensors map[string]*nn.Tensor) error {
	if w, ok := tensors["classifier.weight"]; ok {
		if err := h.classifier.LoadTensor(w, tensors["classifier.bias"]); err != nil {
			return err
		}
	}
	return loadCRFWeights(h.crf, tensors)
}

// Forward runs the head. With labels, Loss is set; decoding happens either
// way, restricted to unmasked tokens.
func (h *EntityTagger) Forward(ctx context.Context, in *Input) (*TokenOutput, error) {
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

	emissions := make([][][]float32, len(encoded.LastHiddenState))
	for i, seq := range encoded.LastHiddenState {
		emissions[i] = h.classifier.ApplySeq(h.dropout.ApplySeq(seq))
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

// loadCRFWeights loads the CRF parameter triple when all three are present.
func loadCRFWeights(c *crf.CRF, tensors map[string]*nn.Tensor) error {
	start, ok1 := tensors["crf.start"]
	end, ok2 := tensors["crf.end"]
	transitions, ok3 := tensors["crf.transitions"]
	if !ok1 && !ok2 && !ok3 {
		return nil
	}
	if !ok1 || !ok2 || !ok3 {
		return fmt.Errorf("heads: partial CRF weights: need crf.start, crf.end, crf.transitions")
	}
	return c.LoadTensors(start, end, transitions)
}
