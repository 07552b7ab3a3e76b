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
	"fmt"
	"strings"

	"github.com/antflydb/instar/lib/heads"
	"github.com/antflydb/instar/lib/losses"
)

// Entity is one labeled mention found in a text.
type Entity struct {
	// Text is the mention as it appears in the input.
	Text string `json:"text"`
	// Label is the entity type with any BIO prefix stripped.
	Label string `json:"label"`
	// Start and End are byte offsets into the input (End exclusive).
	Start int `json:"start"`
	End   int `json:"end"`
	// Score is the mean per-token probability of the decoded labels.
	Score float32 `json:"score"`
}

// TaggingPipeline runs the full tagging path: tokenize, encode through a
// head (which holds the backbone), aggregate decoded label sequences into
// entities using the head config's label names.
type TaggingPipeline struct {
	*Pipeline

	Head heads.TokenHead
}

// NewTagging builds a tagging pipeline over a tokenizer and a token head.
func NewTagging(tokenizer Tokenizer, head heads.TokenHead, opts ...Option) *TaggingPipeline {
	return &TaggingPipeline{
		Pipeline: New(tokenizer, opts...),
		Head:     head,
	}
}

// Tag extracts entities from the given texts.
func (p *TaggingPipeline) Tag(ctx context.Context, texts []string) ([][]Entity, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch, err := p.Encode(texts)
	if err != nil {
		return nil, fmt.Errorf("pipelines: encoding texts: %w", err)
	}

	out, err := p.Head.Forward(ctx, &heads.Input{
		InputIDs:      batch.InputIDs,
		AttentionMask: batch.AttentionMask,
	})
	if err != nil {
		return nil, fmt.Errorf("pipelines: tagging: %w", err)
	}

	cfg := p.Head.Config()
	results := make([][]Entity, len(texts))
	for i, labelIDs := range out.Labels {
		var spans []TokenSpan
		if batch.Spans != nil {
			spans = batch.Spans[i]
		}
		results[i] = aggregate(texts[i], labelIDs, out.Emissions[i], spans, cfg)
	}
	return results, nil
}

// Close releases the head's encoder.
func (p *TaggingPipeline) Close() error {
	if closer, ok := p.Head.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// aggregate merges a decoded label sequence into entities using BIO
// conventions: "B-X" opens an entity of type X, "I-X" continues one, "O" and
// label-type changes close it. Labels without a BIO prefix are treated as
// their own type, each contiguous run forming one entity.
func aggregate(text string, labelIDs []int, emissions [][]float32, spans []TokenSpan, cfg *heads.Config) []Entity {
	var entities []Entity
	var current *Entity
	var scoreSum float64
	var scoreCount int

	flush := func() {
		if current == nil {
			return
		}
		if scoreCount > 0 {
			current.Score = float32(scoreSum / float64(scoreCount))
		}
		// Offsets are byte positions only when the tokenizer reported
		// spans; token-index offsets cannot be sliced into the text.
		if spans != nil && current.End > current.Start && current.End <= len(text) {
			current.Text = text[current.Start:current.End]
		}
		entities = append(entities, *current)
		current, scoreSum, scoreCount = nil, 0, 0
	}

	for t, id := range labelIDs {
		name := cfg.LabelName(id)
		prefix, entityType := splitBIO(name)
		if entityType == "O" {
			flush()
			continue
		}

		start, end := t, t+1
		if spans != nil && t < len(spans) {
			start, end = int(spans[t].Start), int(spans[t].End)
		}

		continues := current != nil && current.Label == entityType && prefix != "B"
		if !continues {
			flush()
			current = &Entity{Label: entityType, Start: start, End: end}
		} else {
			current.End = end
		}

		probs := losses.Softmax(emissions[t])
		scoreSum += float64(probs[id])
		scoreCount++
	}
	flush()
	return entities
}

// splitBIO splits "B-PER" into ("B", "PER"); unprefixed labels return an
// empty prefix and themselves.
func splitBIO(label string) (prefix, entityType string) {
	if len(label) > 2 && label[1] == '-' && (label[0] == 'B' || label[0] == 'I') {
		return label[:1], label[2:]
	}
	if strings.EqualFold(label, "o") {
		return "", "O"
	}
	return "", label
}
