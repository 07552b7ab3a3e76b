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

// Package pipelines pairs a tokenizer with an encoder and a task head for
// end-to-end tagging. The base Pipeline handles text encoding, padding, and
// truncation; TaggingPipeline adds head execution and entity aggregation.
package pipelines

import (
	"fmt"

	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// Tokenizer is the minimal tokenization capability a pipeline needs.
// go-huggingface tokenizers satisfy it.
type Tokenizer interface {
	Encode(text string) []int
	SpecialTokenID(token api.SpecialToken) (int, error)
}

// TokenSpan is the byte span of a token in the original text.
type TokenSpan = api.TokenSpan

// PaddingStrategy specifies how a batch is padded.
type PaddingStrategy string

const (
	// PaddingNone requires all sequences in a batch to share a length.
	PaddingNone PaddingStrategy = "none"
	// PaddingLongest pads to the longest sequence in the batch.
	PaddingLongest PaddingStrategy = "longest"
	// PaddingMaxLength pads every sequence to the configured max length.
	PaddingMaxLength PaddingStrategy = "max_length"
)

// Config holds pipeline encoding configuration.
type Config struct {
	// MaxLength bounds the sequence length; longer inputs are truncated
	// unless Truncation is disabled.
	MaxLength int

	Padding PaddingStrategy

	// Truncation enables cutting sequences down to MaxLength.
	Truncation bool

	// PadTokenID fills padded positions. Zero means "ask the tokenizer".
	PadTokenID int32
}

// DefaultConfig returns the defaults used when no options are given.
func DefaultConfig() *Config {
	return &Config{
		MaxLength:  512,
		Padding:    PaddingLongest,
		Truncation: true,
	}
}

// Option configures a Pipeline.
type Option func(*Config)

// WithMaxLength sets the maximum sequence length.
func WithMaxLength(n int) Option {
	return func(c *Config) { c.MaxLength = n }
}

// WithPadding sets the padding strategy.
func WithPadding(s PaddingStrategy) Option {
	return func(c *Config) { c.Padding = s }
}

// WithTruncation toggles truncation to MaxLength.
func WithTruncation(enabled bool) Option {
	return func(c *Config) { c.Truncation = enabled }
}

// WithPadTokenID overrides the padding token ID.
func WithPadTokenID(id int32) Option {
	return func(c *Config) { c.PadTokenID = id }
}

// Pipeline turns raw texts into padded, masked token ID batches.
type Pipeline struct {
	Tokenizer Tokenizer
	Config    *Config
}

// New creates a Pipeline. When the config leaves PadTokenID at zero the
// tokenizer's pad token is used if it has one.
func New(tokenizer Tokenizer, opts ...Option) *Pipeline {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.PadTokenID == 0 {
		if padID, err := tokenizer.SpecialTokenID(api.TokPad); err == nil {
			config.PadTokenID = int32(padID)
		}
	}
	return &Pipeline{Tokenizer: tokenizer, Config: config}
}

// EncodedBatch is a rectangular token ID batch with its attention mask.
type EncodedBatch struct {
	// InputIDs and AttentionMask are [batch][seq].
	InputIDs      [][]int32
	AttentionMask [][]int32

	// OriginalLengths holds each sequence's pre-padding token count.
	OriginalLengths []int

	// Spans maps tokens back to byte offsets in the source text. Populated
	// only when the tokenizer reports spans.
	Spans [][]TokenSpan
}

// Encode tokenizes a batch of texts, applying the configured padding and
// truncation. Byte spans are included when the tokenizer supports them.
func (p *Pipeline) Encode(texts []string) (*EncodedBatch, error) {
	if len(texts) == 0 {
		return &EncodedBatch{}, nil
	}

	spanTokenizer, hasSpans := p.Tokenizer.(api.TokenizerWithSpans)

	ids := make([][]int, len(texts))
	spans := make([][]TokenSpan, len(texts))
	maxLen := 0
	for i, text := range texts {
		if hasSpans {
			encoded := spanTokenizer.EncodeWithSpans(text)
			ids[i] = encoded.IDs
			spans[i] = encoded.Spans
		} else {
			ids[i] = p.Tokenizer.Encode(text)
		}
		if len(ids[i]) > maxLen {
			maxLen = len(ids[i])
		}
	}

	targetLen := maxLen
	switch p.Config.Padding {
	case PaddingMaxLength:
		targetLen = p.Config.MaxLength
	case PaddingLongest:
	case PaddingNone:
		for _, tokens := range ids {
			if len(tokens) != maxLen {
				return nil, fmt.Errorf("pipelines: padding disabled but batch has mixed sequence lengths")
			}
		}
	default:
		return nil, fmt.Errorf("pipelines: unknown padding strategy %q", p.Config.Padding)
	}

	if p.Config.Truncation && targetLen > p.Config.MaxLength {
		targetLen = p.Config.MaxLength
	}

	batch := &EncodedBatch{
		InputIDs:        make([][]int32, len(texts)),
		AttentionMask:   make([][]int32, len(texts)),
		OriginalLengths: make([]int, len(texts)),
	}
	if hasSpans {
		batch.Spans = make([][]TokenSpan, len(texts))
	}

	for i, tokens := range ids {
		batch.OriginalLengths[i] = len(tokens)
		if len(tokens) > targetLen {
			if !p.Config.Truncation {
				return nil, fmt.Errorf("pipelines: sequence of %d tokens exceeds length %d and truncation is disabled",
					len(tokens), targetLen)
			}
			tokens = tokens[:targetLen]
		}

		inputIDs := make([]int32, targetLen)
		attentionMask := make([]int32, targetLen)
		for j, tok := range tokens {
			inputIDs[j] = int32(tok)
			attentionMask[j] = 1
		}
		for j := len(tokens); j < targetLen; j++ {
			inputIDs[j] = p.Config.PadTokenID
		}
		batch.InputIDs[i] = inputIDs
		batch.AttentionMask[i] = attentionMask

		if hasSpans {
			padded := make([]TokenSpan, targetLen)
			copy(padded, spans[i][:min(len(spans[i]), targetLen)])
			batch.Spans[i] = padded
		}
	}
	return batch, nil
}

// TokenCount returns the token count of one text, before any truncation.
func (p *Pipeline) TokenCount(text string) int {
	return len(p.Tokenizer.Encode(text))
}
