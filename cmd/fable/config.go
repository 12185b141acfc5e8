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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"github.com/teradata-labs/fable/pkg/storage/backend"
	"github.com/teradata-labs/fable/pkg/types"
)

// ServiceName identifies fable secrets in the system keyring.
const ServiceName = "fable"

// ProviderConfig selects and configures the LLM provider.
type ProviderConfig struct {
	Name            string `mapstructure:"name"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	Model           string `mapstructure:"model"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is everything the CLI needs to build a runtime.
type Config struct {
	Simulation types.SimulationConfig `mapstructure:"simulation"`
	Provider   ProviderConfig         `mapstructure:"provider"`
	Storage    backend.Config         `mapstructure:"storage"`
	Logging    LoggingConfig          `mapstructure:"logging"`
	// CharacterDir holds the character sheet YAML files.
	CharacterDir string `mapstructure:"character_dir"`
}

// LoadConfig loads configuration with precedence flag > file > env > default.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("fable")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.fable")
	}

	viper.SetEnvPrefix("FABLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing default config file is fine; an unreadable one is not.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Simulation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	def := types.DefaultSimulationConfig()
	viper.SetDefault("simulation.max_turn_time_seconds", def.MaxTurnTimeSeconds)
	viper.SetDefault("simulation.max_cost_per_turn", def.MaxCostPerTurn)
	viper.SetDefault("simulation.max_total_cost", def.MaxTotalCost)
	viper.SetDefault("simulation.max_requests_per_hour", def.MaxRequestsPerHour)
	viper.SetDefault("simulation.cache_ttl_seconds", def.CacheTTLSeconds)
	viper.SetDefault("simulation.cache_capacity", def.CacheCapacity)
	viper.SetDefault("simulation.max_batch_size", def.MaxBatchSize)
	viper.SetDefault("simulation.batch_timeout_ms", def.BatchTimeoutMS)
	viper.SetDefault("simulation.memory_capacity", def.MemoryCapacity)
	viper.SetDefault("simulation.working_memory_size", def.WorkingMemorySize)
	viper.SetDefault("simulation.dialogue_history_cap", def.DialogueHistoryCap)
	viper.SetDefault("simulation.fast_mode_threshold_seconds", def.FastModeThresholdSeconds)
	viper.SetDefault("simulation.primary_provider", def.PrimaryProvider)
	viper.SetDefault("simulation.max_negotiation_rounds", def.MaxNegotiationRounds)

	viper.SetDefault("provider.name", "gemini")
	viper.SetDefault("storage.kind", string(backend.KindSQLite))
	viper.SetDefault("storage.path", "fable.db")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("character_dir", "characters")
}

// apiKey resolves a provider key: explicit config, then environment, then
// the system keyring.
func apiKey(configured, envVar, keyringName string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if v, err := keyring.Get(ServiceName, keyringName); err == nil {
		return v
	}
	return ""
}
