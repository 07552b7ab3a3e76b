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

package backbone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"

	// Pure Go engine, always available without CGO.
	_ "github.com/gomlx/gomlx/backends/simplego"
)

func init() {
	RegisterFactory("onnx", func(path string, hiddenSize int) (Backbone, error) {
		return OpenONNX(path, hiddenSize)
	})
}

// ONNXBackbone runs an exported encoder (e.g. a T5 or BERT encoder) through
// onnx-gomlx on the pure Go engine. The ONNX graph is converted to a GoMLX
// graph and executed per batch shape.
type ONNXBackbone struct {
	path   string
	hidden int
	model  *onnx.Model
	ctx    *mlctx.Context
	engine backends.Backend

	needsTokenTypeIDs bool

	mu sync.Mutex
}

// OpenONNX loads an encoder from a model directory. It looks for model.onnx
// first, then any *.onnx file.
func OpenONNX(dir string, hiddenSize int) (*ONNXBackbone, error) {
	onnxPath := filepath.Join(dir, "model.onnx")
	if _, err := os.Stat(onnxPath); os.IsNotExist(err) {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.onnx"))
		if len(matches) == 0 {
			return nil, fmt.Errorf("backbone: no ONNX file found in %s", dir)
		}
		onnxPath = matches[0]
	}

	om, err := onnx.ReadFile(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("backbone: loading ONNX model: %w", err)
	}

	ctx := mlctx.New()
	if err := om.VariablesToContext(ctx); err != nil {
		return nil, fmt.Errorf("backbone: loading ONNX variables: %w", err)
	}

	engine, err := newEngine()
	if err != nil {
		return nil, err
	}

	b := &ONNXBackbone{
		path:   onnxPath,
		hidden: hiddenSize,
		model:  om,
		ctx:    ctx,
		engine: engine,
	}

	inputNames, _ := om.Inputs()
	for _, name := range inputNames {
		if name == "token_type_ids" {
			b.needsTokenTypeIDs = true
			break
		}
	}
	return b, nil
}

// newEngine creates the pure Go engine, catching panics from engines that do
// not handle missing dependencies gracefully.
func newEngine() (engine backends.Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = fmt.Errorf("backbone: engine panicked during initialization: %v", r)
		}
	}()
	engine, err = backends.NewWithConfig("go")
	if err != nil {
		return nil, fmt.Errorf("backbone: creating engine: %w", err)
	}
	return engine, nil
}

func (b *ONNXBackbone) Encode(ctx context.Context, inputs *Inputs) (*Output, error) {
	if inputs.InputEmbeds != nil {
		return nil, fmt.Errorf("backbone: %s: precomputed embeddings are not supported by ONNX encoders", b.path)
	}
	if inputs.OutputHiddenStates || inputs.OutputAttentions {
		// Exported encoder graphs only emit last_hidden_state.
		return nil, fmt.Errorf("backbone: %s: intermediate hidden states and attentions are not exported in ONNX encoders", b.path)
	}

	batch, seq, err := validate(inputs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// ONNX encoders expect int64 inputs.
	flatInputIDs := make([]int64, batch*seq)
	flatAttentionMask := make([]int64, batch*seq)
	for i := 0; i < batch; i++ {
		for j := 0; j < seq; j++ {
			flatInputIDs[i*seq+j] = int64(inputs.InputIDs[i][j])
			flatAttentionMask[i*seq+j] = int64(inputs.AttentionMask[i][j])
		}
	}

	inputIDsTensor := tensors.FromFlatDataAndDimensions(flatInputIDs, batch, seq)
	attentionMaskTensor := tensors.FromFlatDataAndDimensions(flatAttentionMask, batch, seq)

	var tokenTypeIDsTensor *tensors.Tensor
	if b.needsTokenTypeIDs {
		tokenTypeIDsTensor = tensors.FromFlatDataAndDimensions(make([]int64, batch*seq), batch, seq)
	}

	graphFn := func(mlCtx *mlctx.Context, nodes []*graph.Node) []*graph.Node {
		inputMap := map[string]*graph.Node{
			"input_ids":      nodes[0],
			"attention_mask": nodes[1],
		}
		if len(nodes) > 2 {
			inputMap["token_type_ids"] = nodes[2]
		}
		return b.model.CallGraph(mlCtx.Reuse(), nodes[0].Graph(), inputMap)
	}

	var results []*tensors.Tensor
	if tokenTypeIDsTensor != nil {
		results, err = mlctx.ExecOnceN(b.engine, b.ctx, graphFn, inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor)
	} else {
		results, err = mlctx.ExecOnceN(b.engine, b.ctx, graphFn, inputIDsTensor, attentionMaskTensor)
	}
	if err != nil {
		return nil, fmt.Errorf("backbone: exec failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("backbone: no output from ONNX model")
	}

	output := results[0]
	shape := output.Shape()
	if len(shape.Dimensions) != 3 {
		return nil, fmt.Errorf("backbone: unexpected output shape %v, expected [batch, seq, hidden]", shape.Dimensions)
	}
	if b.hidden > 0 && shape.Dimensions[2] != b.hidden {
		return nil, fmt.Errorf("backbone: model hidden size %d does not match configured %d",
			shape.Dimensions[2], b.hidden)
	}

	data := output.Value().([][][]float32)
	lastHiddenState := make([][][]float32, batch)
	for i := 0; i < batch; i++ {
		lastHiddenState[i] = data[i]
	}
	return &Output{LastHiddenState: lastHiddenState}, nil
}

func (b *ONNXBackbone) HiddenSize() int { return b.hidden }

func (b *ONNXBackbone) Name() string { return b.path }

func (b *ONNXBackbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = nil
	b.ctx = nil
	return nil
}
