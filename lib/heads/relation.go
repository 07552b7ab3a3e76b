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
	"github.com/antflydb/instar/lib/losses"
	"github.com/antflydb/instar/lib/nn"
)

// RelationClassifier predicts a relation type from a sentence and one
// subject/object entity span pair per example. The sentence is pooled into
// one vector and passed through dropout; subject and object spans are
// mean-pooled and projected through a single shared linear layer;
// [sentence, subject, object] are concatenated and classified into
// NumLabels logits. Concatenation order makes subject and object roles
// asymmetric.
//
// The loss depends on the problem type: regression (MSE) when NumLabels is
// 1, cross-entropy for integer class labels, sigmoid BCE otherwise. When the
// configuration leaves the problem type unset it is inferred on the first
// labeled call and cached on the head; later calls with a different label
// kind are an error rather than a silent re-inference.
type RelationClassifier struct {
	cfg     *Config
	encoder backbone.Backbone

	pooler         Pooler
	fc             *nn.Linear
	dropout        *nn.Dropout
	dropoutAfterFC bool
	classifier     *nn.Linear

	problemType string
}

// NewMeanRelationClassifier builds the variant whose sentence vector is the
// masked token sum divided by sqrt of the token count. Span projections are
// not dropped out.
func NewMeanRelationClassifier(cfg *Config, encoder backbone.Backbone) (*RelationClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newRelationClassifier(cfg, encoder, NewMeanPooler(cfg, true), false), nil
}

// NewFirstTokenRelationClassifier builds the variant whose sentence vector
// comes from the leading token. Span projections pass through dropout.
func NewFirstTokenRelationClassifier(cfg *Config, encoder backbone.Backbone) (*RelationClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newRelationClassifier(cfg, encoder, NewSimplePooler(cfg), true), nil
}

func newRelationClassifier(cfg *Config, encoder backbone.Backbone, pooler Pooler, dropoutAfterFC bool) *RelationClassifier {
	rng := nn.RNG(cfg.Seed)
	return &RelationClassifier{
		cfg:            cfg,
		encoder:        encoder,
		pooler:         pooler,
		fc:             nn.NewLinear(cfg.DModel, cfg.DModel, rng),
		dropout:        nn.NewDropout(cfg.DropoutRate, rng),
		dropoutAfterFC: dropoutAfterFC,
		classifier:     nn.NewLinear(3*cfg.DModel, cfg.NumLabels, rng),
		problemType:    cfg.ProblemType,
	}
}

// Config returns the head configuration.
func (h *RelationClassifier) Config() *Config { return h.cfg }

// Close releases the encoder.
func (h *RelationClassifier) Close() error { return h.encoder.Close() }

// ProblemType returns the resolved problem type, or "" if no labeled call
// has fixed it yet.
func (h *RelationClassifier) ProblemType() string { return h.problemType }

// LoadWeights installs trained parameters: fc.weight [D, D], fc.bias [D],
// classifier.weight [L, 3D], classifier.bias [L].
func (h *RelationClassifier) LoadWeights(tensors map[string]*nn.Tensor) error {
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
	return nil
}

// Forward runs the head. SubjectSpans and ObjectSpans must each supply one
// non-empty span per example.
func (h *RelationClassifier) Forward(ctx context.Context, in *Input) (*SequenceOutput, error) {
	mask, err := fullMask(in)
	if err != nil {
		return nil, err
	}

	encoded, err := h.encoder.Encode(ctx, &backbone.Inputs{
		InputIDs:      in.InputIDs,
		AttentionMask: mask,
		InputEmbeds:   in.InputEmbeds,
	})
	if err != nil {
		return nil, fmt.Errorf("heads: encoder: %w", err)
	}

	hidden := encoded.LastHiddenState
	if len(in.SubjectSpans) != len(hidden) || len(in.ObjectSpans) != len(hidden) {
		return nil, fmt.Errorf("heads: %d subject and %d object spans for %d examples",
			len(in.SubjectSpans), len(in.ObjectSpans), len(hidden))
	}

	sentence, err := h.pooler.Pool(hidden, mask)
	if err != nil {
		return nil, err
	}

	logits := make([][]float32, len(hidden))
	for i, seq := range hidden {
		subject, err := h.project(seq, in.SubjectSpans[i])
		if err != nil {
			return nil, fmt.Errorf("example %d: subject: %w", i, err)
		}
		object, err := h.project(seq, in.ObjectSpans[i])
		if err != nil {
			return nil, fmt.Errorf("example %d: object: %w", i, err)
		}

		joined := make([]float32, 0, 3*h.cfg.DModel)
		joined = append(joined, h.dropout.Apply(sentence[i])...)
		joined = append(joined, subject...)
		joined = append(joined, object...)
		logits[i] = h.classifier.Apply(joined)
	}

	out := &SequenceOutput{Logits: logits}
	if in.Labels != nil {
		loss, err := h.loss(logits, in.Labels)
		if err != nil {
			return nil, err
		}
		out.Loss = &loss
	}
	return out, nil
}

// project mean-pools a span and runs it through the shared linear layer.
func (h *RelationClassifier) project(seq [][]float32, span Span) ([]float32, error) {
	vec, err := spanMean(seq, span)
	if err != nil {
		return nil, err
	}
	vec = h.fc.Apply(vec)
	if h.dropoutAfterFC {
		vec = h.dropout.Apply(vec)
	}
	return vec, nil
}

// loss selects and applies the loss function, fixing the problem type on
// first use. First call wins; label kinds that contradict the cached type
// are rejected.
func (h *RelationClassifier) loss(logits [][]float32, labels *Labels) (float32, error) {
	if h.problemType == "" {
		switch {
		case h.cfg.NumLabels == 1:
			h.problemType = ProblemRegression
		case labels.ClassIDs != nil:
			h.problemType = ProblemSingleLabel
		default:
			h.problemType = ProblemMultiLabel
		}
	}

	switch h.problemType {
	case ProblemRegression:
		if labels.Values == nil {
			return 0, fmt.Errorf("%w: regression requires float targets", ErrLabelKind)
		}
		return losses.MSE(logits, labels.Values)
	case ProblemSingleLabel:
		if labels.ClassIDs == nil {
			return 0, fmt.Errorf("%w: single-label classification requires integer class ids", ErrLabelKind)
		}
		return losses.CrossEntropy(logits, labels.ClassIDs)
	case ProblemMultiLabel:
		if labels.Values == nil {
			return 0, fmt.Errorf("%w: multi-label classification requires float targets", ErrLabelKind)
		}
		return losses.BCEWithLogits(logits, labels.Values)
	default:
		return 0, fmt.Errorf("heads: unknown problem type %q", h.problemType)
	}
}
