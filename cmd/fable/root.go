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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/fable/internal/log"
	"github.com/teradata-labs/fable/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "fable",
	Short:   "Fable - Multi-agent narrative simulation runtime",
	Long:    `Fable runs turn-based multi-agent narrative simulations: character decision pipelines, batched LLM dialogue, a causal event graph, and narrative coherence checking, all under strict cost budgets.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fable.yaml)")

	// Simulation flags
	rootCmd.PersistentFlags().Float64("max-cost-per-turn", 0.10, "USD ceiling per turn")
	rootCmd.PersistentFlags().Float64("max-total-cost", 1.00, "USD ceiling per simulation")
	rootCmd.PersistentFlags().Int("max-requests-per-hour", 100, "provider request rate ceiling")
	rootCmd.PersistentFlags().Float64("max-turn-time", 5.0, "turn wall-clock budget in seconds")

	// Provider flags
	rootCmd.PersistentFlags().String("provider", "gemini", "LLM provider (gemini, anthropic, mock)")
	rootCmd.PersistentFlags().String("gemini-key", "", "Gemini API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("model", "", "provider model override")

	// Storage flags
	rootCmd.PersistentFlags().String("db", "fable.db", "SQLite snapshot database path")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "Postgres DSN (switches the snapshot backend)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("simulation.max_cost_per_turn", rootCmd.PersistentFlags().Lookup("max-cost-per-turn"))
	_ = viper.BindPFlag("simulation.max_total_cost", rootCmd.PersistentFlags().Lookup("max-total-cost"))
	_ = viper.BindPFlag("simulation.max_requests_per_hour", rootCmd.PersistentFlags().Lookup("max-requests-per-hour"))
	_ = viper.BindPFlag("simulation.max_turn_time_seconds", rootCmd.PersistentFlags().Lookup("max-turn-time"))

	_ = viper.BindPFlag("provider.name", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("provider.gemini_api_key", rootCmd.PersistentFlags().Lookup("gemini-key"))
	_ = viper.BindPFlag("provider.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("provider.model", rootCmd.PersistentFlags().Lookup("model"))

	_ = viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("storage.dsn", rootCmd.PersistentFlags().Lookup("postgres-dsn"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
}
