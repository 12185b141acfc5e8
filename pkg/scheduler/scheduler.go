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

// Package scheduler runs the simulation's periodic maintenance on cron
// schedules: memory consolidation sweeps, causal-graph retention, response
// cache purges, and negotiation session expiry.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/types"
)

// Task is one maintenance job. Run returns how many items it touched
// (memories consolidated, events collected, entries purged).
type Task struct {
	// Name identifies the task in logs and stats.
	Name string
	// Spec is a standard 5-field cron expression.
	Spec string
	// Run does the work.
	Run func() (int, error)
}

// RunRecord is the outcome of one task execution.
type RunRecord struct {
	Task      string        `json:"task"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Touched   int           `json:"touched"`
	Err       string        `json:"err,omitempty"`
}

// maxRunHistory bounds retained run records.
const maxRunHistory = 200

// Scheduler owns the cron engine and the task set.
type Scheduler struct {
	engine *cron.Cron
	logger *zap.Logger
	clock  types.Clock

	mu      sync.Mutex
	entries map[string]cron.EntryID
	tasks   map[string]Task
	runs    []RunRecord
	started bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock replaces the wall clock used for run records.
func WithClock(clock types.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New builds an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:  cron.New(),
		logger:  zap.NewNop(),
		clock:   time.Now,
		entries: make(map[string]cron.EntryID),
		tasks:   make(map[string]Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a task. Duplicate names are rejected.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[task.Name]; ok {
		return fmt.Errorf("task %s already registered", task.Name)
	}
	id, err := s.engine.AddFunc(task.Spec, func() { s.execute(task) })
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.Name, err)
	}
	s.entries[task.Name] = id
	s.tasks[task.Name] = task
	return nil
}

// Remove unregisters a task. Returns false when unknown.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.engine.Remove(id)
	delete(s.entries, name)
	delete(s.tasks, name)
	return true
}

// Tasks returns registered task names.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Start begins executing tasks on their schedules. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.engine.Start()
	s.logger.Info("maintenance scheduler started", zap.Int("tasks", len(s.entries)))
}

// Stop halts scheduling and waits for any in-flight task to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.engine.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

// RunNow executes a registered task immediately, outside its schedule, and
// returns its run record.
func (s *Scheduler) RunNow(name string) (RunRecord, error) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return RunRecord{}, fmt.Errorf("unknown task %s", name)
	}
	return s.execute(task), nil
}

// Runs returns a copy of the retained run records, oldest first.
func (s *Scheduler) Runs() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunRecord(nil), s.runs...)
}

// execute runs one task and records the outcome.
func (s *Scheduler) execute(task Task) RunRecord {
	start := s.clock()
	touched, err := task.Run()
	rec := RunRecord{
		Task:      task.Name,
		StartedAt: start,
		Duration:  s.clock().Sub(start),
		Touched:   touched,
	}
	if err != nil {
		rec.Err = err.Error()
		s.logger.Warn("maintenance task failed",
			zap.String("task", task.Name), zap.Error(err))
	} else {
		s.logger.Debug("maintenance task ran",
			zap.String("task", task.Name),
			zap.Int("touched", touched),
			zap.Duration("duration", rec.Duration))
	}

	s.mu.Lock()
	s.runs = append(s.runs, rec)
	if len(s.runs) > maxRunHistory {
		s.runs = s.runs[len(s.runs)-maxRunHistory:]
	}
	s.mu.Unlock()
	return rec
}
