// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/antflydb/instar"
)

var tagModel string

var tagCmd = &cobra.Command{
	Use:   "tag --model <name> [text...]",
	Short: "Extract entities from texts",
	Long: `Run a tagging model over the given texts and print the extracted
entities as JSON, one array per input text.

Texts are taken from the arguments, or from stdin (one per line) when no
arguments are given.

Examples:
  instar tag --model bert-base-ner "Alice met Bob in Paris"

  cat texts.txt | instar tag --model bert-base-ner`,
	RunE: runTag,
}

func init() {
	rootCmd.AddCommand(tagCmd)

	tagCmd.Flags().StringVar(&tagModel, "model", "", "model name (required)")
	_ = tagCmd.MarkFlagRequired("model")
}

func runTag(cmd *cobra.Command, args []string) error {
	texts := args
	if len(texts) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				texts = append(texts, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}
	if len(texts) == 0 {
		return fmt.Errorf("no texts to tag")
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	service, err := instar.NewService(instar.Config{ModelsDir: modelsDir}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = service.Close() }()

	results, err := service.Tag(cmd.Context(), tagModel, texts)
	if err != nil {
		return err
	}

	out, err := sonic.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
