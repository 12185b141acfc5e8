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

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fable configuration and secrets",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <provider>",
	Short: "Store a provider API key in the system keyring",
	Long: heredoc.Doc(`
		Store an API key in the operating system keyring so it never has
		to appear in config files or shell history.

		The key is read from stdin. Providers: gemini, anthropic.
	`),
	Example: heredoc.Doc(`
		fable config set-key gemini
		echo "$KEY" | fable config set-key anthropic
	`),
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key <provider>",
	Short: "Remove a provider API key from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDeleteKey,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
}

const exampleConfig = `# fable configuration
simulation:
  max_turn_time_seconds: 5.0
  max_cost_per_turn: 0.10
  max_total_cost: 1.00
  max_requests_per_hour: 100
  cache_ttl_seconds: 300
  cache_capacity: 1000
  max_batch_size: 5
  batch_timeout_ms: 150
  memory_capacity: 200
  working_memory_size: 7
  dialogue_history_cap: 100
  fast_mode_threshold_seconds: 3.0
  max_negotiation_rounds: 5

provider:
  name: gemini # gemini, anthropic, or mock
  model: ""    # empty = provider default
  # Keys resolve from here, then FABLE_PROVIDER_*_API_KEY / GEMINI_API_KEY /
  # ANTHROPIC_API_KEY, then the system keyring (fable config set-key).
  gemini_api_key: ""
  anthropic_api_key: ""

storage:
  kind: sqlite # sqlite or postgres
  path: fable.db
  dsn: ""      # postgres DSN; setting it switches the backend

logging:
  level: info  # debug, info, warn, error
  format: text # text or json

character_dir: characters
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "fable.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("✓ wrote %s\n", path)
	return nil
}

func keyringName(provider string) (string, error) {
	switch provider {
	case "gemini":
		return "gemini_api_key", nil
	case "anthropic":
		return "anthropic_api_key", nil
	default:
		return "", fmt.Errorf("unknown provider %q (want gemini or anthropic)", provider)
	}
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	name, err := keyringName(args[0])
	if err != nil {
		return err
	}
	var key string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "%s API key: ", args[0])
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		key = string(raw)
	} else {
		if _, err := fmt.Fscanln(os.Stdin, &key); err != nil {
			return fmt.Errorf("read key from stdin: %w", err)
		}
	}
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if err := keyring.Set(ServiceName, name, key); err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	fmt.Printf("✓ %s key stored in keyring\n", args[0])
	return nil
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) error {
	name, err := keyringName(args[0])
	if err != nil {
		return err
	}
	if err := keyring.Delete(ServiceName, name); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	fmt.Printf("✓ %s key removed from keyring\n", args[0])
	return nil
}
