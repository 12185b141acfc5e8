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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/internal/log"
	"github.com/teradata-labs/fable/pkg/agent"
	"github.com/teradata-labs/fable/pkg/broker"
	"github.com/teradata-labs/fable/pkg/budget"
	"github.com/teradata-labs/fable/pkg/causal"
	"github.com/teradata-labs/fable/pkg/coherence"
	"github.com/teradata-labs/fable/pkg/communication"
	"github.com/teradata-labs/fable/pkg/dialogue"
	"github.com/teradata-labs/fable/pkg/llm"
	"github.com/teradata-labs/fable/pkg/llm/anthropic"
	"github.com/teradata-labs/fable/pkg/llm/cache"
	"github.com/teradata-labs/fable/pkg/llm/gemini"
	"github.com/teradata-labs/fable/pkg/llm/mock"
	"github.com/teradata-labs/fable/pkg/memory"
	"github.com/teradata-labs/fable/pkg/negotiation"
	"github.com/teradata-labs/fable/pkg/orchestration"
	"github.com/teradata-labs/fable/pkg/scheduler"
	"github.com/teradata-labs/fable/pkg/storage"
	"github.com/teradata-labs/fable/pkg/storage/backend"
)

var (
	runTurns       int
	runSeed        int64
	runAgentFilter string
	runSnapshot    bool
	runSnapshotID  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation",
	Long: heredoc.Doc(`
		Run a turn-based simulation with the characters found in the
		character directory.

		Each turn every agent decides one action; the coherence checker
		validates the resulting events before they enter the causal graph.
		Dialogue and negotiation go through the LLM broker under the
		configured cost budgets.
	`),
	Example: heredoc.Doc(`
		fable run --turns 10
		fable run --turns 5 --provider mock --seed 42
		fable run --agents "mira" --snapshot
		fable run --resume <snapshot-id> --turns 3
	`),
	RunE: runSimulation,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runTurns, "turns", 10, "number of turns to execute")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "deterministic seed (0 = random)")
	runCmd.Flags().StringVar(&runAgentFilter, "agents", "", "fuzzy filter on character ids")
	runCmd.Flags().BoolVar(&runSnapshot, "snapshot", false, "save a snapshot when the run ends")
	runCmd.Flags().StringVar(&runSnapshotID, "resume", "", "snapshot id to resume from")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger()
	sim := config.Simulation

	provider, err := buildProvider()
	if err != nil {
		return err
	}

	meter := budget.NewMeter(budget.Config{
		MaxCostPerTurn:     sim.MaxCostPerTurn,
		MaxTotalCost:       sim.MaxTotalCost,
		MaxRequestsPerHour: sim.MaxRequestsPerHour,
	}, budget.WithLogger(logger.Named("budget")))

	respCache := cache.New(cache.Config{
		TTL:      sim.CacheTTL(),
		Capacity: sim.CacheCapacity,
	})
	br := broker.New(broker.Config{
		MaxBatchSize: sim.MaxBatchSize,
		BatchTimeout: sim.BatchTimeout(),
	}, provider, respCache, meter, broker.WithLogger(logger.Named("broker")))
	defer br.Close()

	graph := causal.New(causal.DefaultConfig(), causal.WithLogger(logger.Named("causal")))
	checker := coherence.New(coherence.DefaultConfig(), br,
		coherence.WithLogger(logger.Named("coherence")))
	dialogues := dialogue.NewManager(dialogue.Config{
		HistoryCap: sim.DialogueHistoryCap,
	}, br, meter, dialogue.WithLogger(logger.Named("dialogue")))
	negotiations := negotiation.NewEngine(negotiation.Config{
		MaxRounds: sim.MaxNegotiationRounds,
	}, br, negotiation.WithLogger(logger.Named("negotiation")))
	bus := communication.NewBus(communication.WithLogger(logger.Named("bus")))
	defer bus.Close()

	opts := []orchestration.Option{
		orchestration.WithLogger(logger.Named("orchestration")),
		orchestration.WithProgress(func(rec orchestration.TurnRecord) {
			fmt.Printf("turn %d: %d decisions, %d dialogues, $%.4f, %s\n",
				rec.Turn, rec.Decisions, rec.Dialogues, rec.TurnCostUSD,
				rec.Duration.Round(time.Millisecond))
		}),
	}
	if runSeed != 0 {
		opts = append(opts, orchestration.WithSeed(runSeed))
	}
	runtime, err := orchestration.NewRuntime(orchestration.Config{
		TurnTimeout:       sim.TurnBudget(),
		FastModeThreshold: sim.FastModeThreshold(),
	}, orchestration.Components{
		Meter:        meter,
		Broker:       br,
		Graph:        graph,
		Checker:      checker,
		Dialogues:    dialogues,
		Negotiations: negotiations,
		Bus:          bus,
	}, opts...)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	registry, memories, err := registerAgents(runtime, graph, br, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	maint := scheduler.New(scheduler.WithLogger(logger.Named("scheduler")))
	if err := maint.RegisterMaintenance(scheduler.MaintenanceConfig{},
		func() []*memory.Store { return memories },
		graph, respCache, negotiations); err != nil {
		return fmt.Errorf("register maintenance: %w", err)
	}
	maint.Start()
	defer maint.Stop()

	store, err := openSnapshotStore(ctx, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if runSnapshotID != "" {
		snap, err := store.Load(ctx, runSnapshotID)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if err := runtime.RestoreSnapshot(snap); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		fmt.Printf("resumed from snapshot %s at turn %d\n", snap.ID, snap.Turn)
	}

	for turn := 0; turn < runTurns; turn++ {
		result, err := runtime.ExecuteTurn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("interrupted")
				break
			}
			return fmt.Errorf("turn failed: %w", err)
		}
		for id, msg := range result.Errors {
			logger.Warn("agent failed this turn",
				zap.String("agent_id", id), zap.String("error", msg))
		}
	}

	stats := meter.Snapshot()
	fmt.Printf("done: %d turns, $%.4f total (%d requests last hour)\n",
		runtime.Turn(), stats.TotalCostUSD, stats.RequestsLastHour)

	if runSnapshot {
		id, err := store.Save(ctx, runtime.Snapshot(fmt.Sprintf("after turn %d", runtime.Turn())))
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		fmt.Printf("snapshot saved: %s\n", id)
	}
	return nil
}

// buildProvider picks the configured LLM adapter.
func buildProvider() (llm.Provider, error) {
	logger := log.Logger()
	switch config.Provider.Name {
	case "gemini":
		key := apiKey(config.Provider.GeminiAPIKey, "GEMINI_API_KEY", "gemini_api_key")
		if key == "" {
			return nil, fmt.Errorf("gemini API key required (flag, FABLE_PROVIDER_GEMINI_API_KEY, GEMINI_API_KEY, or keyring)")
		}
		return gemini.NewClient(gemini.Config{
			APIKey: key,
			Model:  config.Provider.Model,
			Logger: logger.Named("gemini"),
		}), nil
	case "anthropic":
		key := apiKey(config.Provider.AnthropicAPIKey, "ANTHROPIC_API_KEY", "anthropic_api_key")
		return anthropic.NewClient(anthropic.Config{
			APIKey: key,
			Model:  config.Provider.Model,
			Logger: logger.Named("anthropic"),
		})
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want gemini, anthropic, or mock)", config.Provider.Name)
	}
}

// registerAgents loads character sheets and wires one pipeline per agent,
// honoring the fuzzy id filter. The returned registry keeps watching the
// character directory; the caller owns Close.
func registerAgents(runtime *orchestration.Runtime, graph *causal.Graph, br *broker.Broker, logger *zap.Logger) (*agent.Registry, []*memory.Store, error) {
	registry, err := agent.NewRegistry(config.CharacterDir,
		agent.WithRegistryLogger(logger.Named("registry")))
	if err != nil {
		return nil, nil, fmt.Errorf("load characters from %s: %w", config.CharacterDir, err)
	}

	ids := registry.IDs()
	if runAgentFilter != "" {
		matches := fuzzy.Find(runAgentFilter, ids)
		filtered := make([]string, 0, len(matches))
		for _, m := range matches {
			filtered = append(filtered, ids[m.Index])
		}
		ids = filtered
	}
	if len(ids) == 0 {
		registry.Close()
		return nil, nil, fmt.Errorf("no characters matched in %s", config.CharacterDir)
	}

	sim := config.Simulation
	var memories []*memory.Store
	for i, id := range ids {
		state, err := registry.NewAgent(id)
		if err != nil {
			registry.Close()
			return nil, nil, err
		}
		store := memory.NewStore(id, memory.Config{
			Capacity:          sim.MemoryCapacity,
			WorkingMemorySize: sim.WorkingMemorySize,
		})
		var pipeOpts []agent.PipelineOption
		pipeOpts = append(pipeOpts, agent.WithPipelineLogger(logger.Named("agent")))
		if runSeed != 0 {
			pipeOpts = append(pipeOpts, agent.WithPipelineSeed(runSeed+int64(i)))
		}
		pipeline := agent.NewPipeline(agent.DefaultConfig(), id, graph, store, br, pipeOpts...)
		if err := runtime.AddAgent(state, pipeline); err != nil {
			registry.Close()
			return nil, nil, err
		}
		memories = append(memories, store)
	}
	logger.Info("agents registered", zap.Int("count", len(ids)))
	return registry, memories, nil
}

// openSnapshotStore builds the snapshot store from the storage config.
func openSnapshotStore(ctx context.Context, logger *zap.Logger) (*storage.Store, error) {
	cfg := config.Storage
	if cfg.DSN != "" {
		cfg.Kind = backend.KindPostgres
	}
	b, err := backend.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open snapshot backend: %w", err)
	}
	return storage.NewStore(b, storage.WithLogger(logger.Named("storage")))
}
