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

// Package losses provides the scalar loss functions used by the sequence
// classification heads: mean squared error for regression, softmax
// cross-entropy for single-label classification, and binary cross-entropy
// with logits for multi-label classification. All losses reduce by mean over
// the batch and accumulate in float64.
package losses

import (
	"fmt"
	"math"
)

// MSE computes mean squared error between predictions and targets, averaged
// over every element.
func MSE(predictions [][]float32, targets [][]float32) (float32, error) {
	if len(predictions) != len(targets) {
		return 0, fmt.Errorf("losses: mse: batch sizes differ: %d vs %d", len(predictions), len(targets))
	}
	if len(predictions) == 0 {
		return 0, fmt.Errorf("losses: mse: empty batch")
	}

	var sum float64
	var count int
	for i := range predictions {
		if len(predictions[i]) != len(targets[i]) {
			return 0, fmt.Errorf("losses: mse: example %d: %d predictions vs %d targets",
				i, len(predictions[i]), len(targets[i]))
		}
		for j := range predictions[i] {
			d := float64(predictions[i][j]) - float64(targets[i][j])
			sum += d * d
			count++
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("losses: mse: no elements")
	}
	return float32(sum / float64(count)), nil
}

// CrossEntropy computes mean softmax cross-entropy over a batch of logits
// [batch][classes] against integer class targets.
func CrossEntropy(logits [][]float32, targets []int64) (float32, error) {
	if len(logits) != len(targets) {
		return 0, fmt.Errorf("losses: cross-entropy: batch sizes differ: %d vs %d", len(logits), len(targets))
	}
	if len(logits) == 0 {
		return 0, fmt.Errorf("losses: cross-entropy: empty batch")
	}

	var sum float64
	for i, row := range logits {
		target := targets[i]
		if target < 0 || target >= int64(len(row)) {
			return 0, fmt.Errorf("losses: cross-entropy: example %d: target %d out of range [0, %d)",
				i, target, len(row))
		}
		sum += float64(row[target]) - logSumExp(row)
	}
	return float32(-sum / float64(len(logits))), nil
}

// BCEWithLogits computes mean binary cross-entropy over per-class logits
// [batch][classes] against float targets of the same shape, using the
// numerically stable max(x,0) - x*t + log(1+exp(-|x|)) form.
func BCEWithLogits(logits [][]float32, targets [][]float32) (float32, error) {
	if len(logits) != len(targets) {
		return 0, fmt.Errorf("losses: bce: batch sizes differ: %d vs %d", len(logits), len(targets))
	}
	if len(logits) == 0 {
		return 0, fmt.Errorf("losses: bce: empty batch")
	}

	var sum float64
	var count int
	for i := range logits {
		if len(logits[i]) != len(targets[i]) {
			return 0, fmt.Errorf("losses: bce: example %d: %d logits vs %d targets",
				i, len(logits[i]), len(targets[i]))
		}
		for j := range logits[i] {
			x := float64(logits[i][j])
			t := float64(targets[i][j])
			sum += math.Max(x, 0) - x*t + math.Log1p(math.Exp(-math.Abs(x)))
			count++
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("losses: bce: no elements")
	}
	return float32(sum / float64(count)), nil
}

// Softmax returns the softmax distribution of a logit vector.
func Softmax(logits []float32) []float32 {
	lse := logSumExp(logits)
	out := make([]float32, len(logits))
	for i, x := range logits {
		out[i] = float32(math.Exp(float64(x) - lse))
	}
	return out
}

// Sigmoid returns the element-wise logistic function of a logit vector.
func Sigmoid(logits []float32) []float32 {
	out := make([]float32, len(logits))
	for i, x := range logits {
		out[i] = float32(1 / (1 + math.Exp(-float64(x))))
	}
	return out
}

func logSumExp(row []float32) float64 {
	maxVal := float64(row[0])
	for _, x := range row[1:] {
		if float64(x) > maxVal {
			maxVal = float64(x)
		}
	}
	var sum float64
	for _, x := range row {
		sum += math.Exp(float64(x) - maxVal)
	}
	return maxVal + math.Log(sum)
}
