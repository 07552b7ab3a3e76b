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

package instar

import (
	"sort"

	"github.com/antflydb/instar/lib/heads"
)

// ArchitectureInfo describes one supported head architecture
type ArchitectureInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var architectureDescriptions = map[string]string{
	"EncoderForEntityRecognitionWithCRF":   "Token classification with CRF decoding (NER)",
	"EncoderForCorefResolutionWithCRF":     "Span-conditioned token tagging with CRF (coreference)",
	"EncoderForRelationClassification":     "Relation classification with first-token pooling",
	"EncoderForRelationClassificationMean": "Relation classification with masked mean pooling",
}

// Catalog lists every registered head architecture with a description where
// one is known. Architectures registered by embedders appear with an empty
// description.
func Catalog() []ArchitectureInfo {
	names := heads.Architectures()
	sort.Strings(names)

	infos := make([]ArchitectureInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, ArchitectureInfo{
			Name:        name,
			Description: architectureDescriptions[name],
		})
	}
	return infos
}
