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
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/antflydb/instar"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local models",
	Long: `List models found in the models directory, with the head
architecture each one loads.

Examples:
  # List local models
  instar list

  # List supported head architectures instead
  instar list --archs`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().Bool("archs", false, "List supported head architectures instead of local models")
}

func runList(cmd *cobra.Command, args []string) error {
	archs, _ := cmd.Flags().GetBool("archs")

	if archs {
		for _, info := range instar.Catalog() {
			if info.Description != "" {
				fmt.Printf("%-40s %s\n", info.Name, info.Description)
			} else {
				fmt.Println(info.Name)
			}
		}
		return nil
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	registry, err := instar.NewModelRegistry(instar.RegistryConfig{ModelsDir: modelsDir}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	names := registry.List()
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Printf("No models found in %s\n", modelsDir)
		return nil
	}

	for _, name := range names {
		architecture, err := registry.Architecture(name)
		if err != nil {
			architecture = "?"
		}
		fmt.Printf("%-30s %s\n", name, architecture)
	}
	return nil
}
