// Copyright 2026 Teradata
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
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/fable/pkg/agent"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate configuration and character sheets",
	Long: heredoc.Doc(`
		Validate the loaded configuration and every character sheet in the
		character directory (or the given directory).

		Character sheets are YAML files checked against the character
		schema: required id and name, personality traits in [0,1],
		decision weights in [-1,1].
	`),
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Config was already loaded and validated by initConfig; getting here
	// means it passed.
	fmt.Println("✓ configuration valid")

	dir := config.CharacterDir
	if len(args) == 1 {
		dir = args[0]
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read character dir: %w", err)
	}

	checked, failed := 0, 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		checked++
		path := filepath.Join(dir, entry.Name())
		if err := agent.ValidateSheetFile(path); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", path, err)
			continue
		}
		fmt.Printf("✓ %s\n", path)
	}

	if checked == 0 {
		return fmt.Errorf("no character sheets found in %s", dir)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d character sheets invalid", failed, checked)
	}
	fmt.Printf("✓ %d character sheets valid\n", checked)
	return nil
}
