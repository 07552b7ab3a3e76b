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

package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/bytedance/sonic"
)

// Tensor is a named F32 tensor loaded from a safetensors file.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NumElements returns the product of the tensor dimensions.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type safetensorsEntry struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// LoadSafetensors reads a safetensors file and returns its F32 tensors by
// name. The format is an 8-byte little-endian header length, a JSON header
// mapping tensor names to dtype/shape/offsets, then the raw tensor bytes.
// Only dtype F32 is supported; any other dtype is an error.
func LoadSafetensors(path string) (map[string]*Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %w", err)
	}
	return ParseSafetensors(data)
}

// ParseSafetensors parses an in-memory safetensors payload.
func ParseSafetensors(data []byte) (map[string]*Tensor, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := sonic.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: parsing header: %w", err)
	}

	payload := data[8+headerLen:]
	tensors := make(map[string]*Tensor, len(header))
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}

		var entry safetensorsEntry
		if err := sonic.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("safetensors: parsing entry %q: %w", name, err)
		}
		if entry.Dtype != "F32" {
			return nil, fmt.Errorf("safetensors: tensor %q has dtype %s, expected F32", name, entry.Dtype)
		}

		start, end := entry.DataOffsets[0], entry.DataOffsets[1]
		if start < 0 || end < start || end > len(payload) {
			return nil, fmt.Errorf("safetensors: tensor %q offsets [%d:%d] out of range", name, start, end)
		}

		tensor := &Tensor{Shape: entry.Shape}
		n := tensor.NumElements()
		if end-start != n*4 {
			return nil, fmt.Errorf("safetensors: tensor %q has %d bytes, shape %v needs %d",
				name, end-start, entry.Shape, n*4)
		}

		tensor.Data = make([]float32, n)
		for i := range tensor.Data {
			bits := binary.LittleEndian.Uint32(payload[start+i*4 : start+i*4+4])
			tensor.Data[i] = math.Float32frombits(bits)
		}
		tensors[name] = tensor
	}

	return tensors, nil
}
