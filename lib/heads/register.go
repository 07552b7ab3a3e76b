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

	"github.com/antflydb/instar/lib/backbone"
	"github.com/antflydb/instar/lib/registry"
)

// Head is the capability every task head shares. Concrete heads add their
// own Forward method returning TokenOutput or SequenceOutput.
type Head interface {
	Config() *Config
}

// TokenHead is a head producing per-token label sequences.
type TokenHead interface {
	Head
	Forward(ctx context.Context, in *Input) (*TokenOutput, error)
}

// SequenceHead is a head producing one logit vector per example.
type SequenceHead interface {
	Head
	Forward(ctx context.Context, in *Input) (*SequenceOutput, error)
}

// Constructor builds a head instance over an encoder.
type Constructor func(cfg *Config, encoder backbone.Backbone) (Head, error)

// defaultRegistry holds the built-in head architectures. Tests and embedders
// can construct isolated registries instead of mutating this one.
var defaultRegistry = registry.New[Constructor]()

// Namespace is the locator namespace the built-in heads register under, so
// composite identifiers like "instar/heads:entity_tagger" resolve.
const Namespace = "instar/heads"

func init() {
	register := func(architecture, className string, c Constructor) {
		defaultRegistry.Register(architecture, c)
		defaultRegistry.RegisterIn(Namespace, className, c)
	}

	register("EncoderForEntityRecognitionWithCRF", "EntityTagger",
		func(cfg *Config, encoder backbone.Backbone) (Head, error) {
			return NewEntityTagger(cfg, encoder)
		})
	register("EncoderForCorefResolutionWithCRF", "SpanTagger",
		func(cfg *Config, encoder backbone.Backbone) (Head, error) {
			return NewSpanTagger(cfg, encoder)
		})
	register("EncoderForRelationClassification", "FirstTokenRelationClassifier",
		func(cfg *Config, encoder backbone.Backbone) (Head, error) {
			return NewFirstTokenRelationClassifier(cfg, encoder)
		})
	register("EncoderForRelationClassificationMean", "MeanRelationClassifier",
		func(cfg *Config, encoder backbone.Backbone) (Head, error) {
			return NewMeanRelationClassifier(cfg, encoder)
		})
}

// Register adds a constructor under an architecture name in the default
// registry. Later registrations overwrite earlier ones.
func Register(architecture string, c Constructor) Constructor {
	return defaultRegistry.Register(architecture, c)
}

// Resolve looks up a constructor by architecture name or composite
// "namespace:snake_case_name" locator in the default registry.
func Resolve(identifier string) (Constructor, error) {
	return defaultRegistry.Resolve(identifier)
}

// Architectures lists the registered architecture names.
func Architectures() []string {
	return defaultRegistry.Names()
}
