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

package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/fable/pkg/types"
)

// characterSchema validates a character sheet before it enters the registry.
// Trait values live in [0,1], decision weights in [-1,1].
const characterSchema = `{
  "type": "object",
  "required": ["id", "name"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "faction": {"type": "string"},
    "description": {"type": "string"},
    "location": {"type": "string"},
    "personality": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
    },
    "decision_weights": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": -1, "maximum": 1}
    },
    "goals": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "urgency": {"type": "number", "minimum": 0, "maximum": 1},
          "importance": {"type": "number", "minimum": 0, "maximum": 1},
          "feasibility": {"type": "number", "minimum": 0, "maximum": 1},
          "alignment": {"type": "number", "minimum": 0, "maximum": 1},
          "opportunity": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

// CharacterSheet is one character file as loaded from disk.
type CharacterSheet struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Faction     string             `yaml:"faction"`
	Description string             `yaml:"description"`
	Location    string             `yaml:"location"`
	Personality map[string]float64 `yaml:"personality"`
	Weights     map[string]float64 `yaml:"decision_weights"`
	Goals       []GoalSheet        `yaml:"goals"`
}

// GoalSheet is one goal entry of a character file.
type GoalSheet struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Urgency     float64 `yaml:"urgency"`
	Importance  float64 `yaml:"importance"`
	Feasibility float64 `yaml:"feasibility"`
	Alignment   float64 `yaml:"alignment"`
	Opportunity float64 `yaml:"opportunity"`
}

// Registry loads character sheets from a directory, validates them against
// the schema, and hot-reloads files as they change on disk.
type Registry struct {
	dir    string
	logger *zap.Logger
	schema *gojsonschema.Schema

	mu     sync.RWMutex
	sheets map[string]*CharacterSheet

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry loads every character file under dir and starts watching the
// directory for changes. The caller owns Close.
func NewRegistry(dir string, opts ...RegistryOption) (*Registry, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(characterSchema))
	if err != nil {
		return nil, fmt.Errorf("character schema: %w", err)
	}
	r := &Registry{
		dir:    dir,
		logger: zap.NewNop(),
		schema: schema,
		sheets: make(map[string]*CharacterSheet),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("character watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	r.watcher = watcher
	r.wg.Add(1)
	go r.watch()
	return r, nil
}

// Reload re-reads every character file. Files that fail validation are
// skipped and logged; previously loaded versions of them are kept.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read character dir %s: %w", r.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isCharacterFile(entry.Name()) {
			continue
		}
		r.loadFile(filepath.Join(r.dir, entry.Name()))
	}
	return nil
}

func isCharacterFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// parseSheet validates raw YAML against the character schema and decodes it.
func parseSheet(schema *gojsonschema.Schema, raw []byte) (*CharacterSheet, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("not valid yaml: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("schema violations: %s", strings.Join(msgs, "; "))
	}
	var sheet CharacterSheet
	if err := yaml.Unmarshal(raw, &sheet); err != nil {
		return nil, fmt.Errorf("decode sheet: %w", err)
	}
	return &sheet, nil
}

// ValidateSheetFile checks one character file against the schema without
// building a registry.
func ValidateSheetFile(path string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(characterSchema))
	if err != nil {
		return fmt.Errorf("character schema: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = parseSheet(schema, raw)
	return err
}

// loadFile parses and validates one character file and installs it.
func (r *Registry) loadFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("character file unreadable", zap.String("path", path), zap.Error(err))
		return
	}
	sheet, err := parseSheet(r.schema, raw)
	if err != nil {
		r.logger.Warn("character file rejected",
			zap.String("path", path), zap.Error(err))
		return
	}

	r.mu.Lock()
	r.sheets[sheet.ID] = sheet
	r.mu.Unlock()
	r.logger.Info("character loaded",
		zap.String("id", sheet.ID),
		zap.String("name", sheet.Name),
		zap.String("path", path))
}

// watch reloads character files as they change on disk.
func (r *Registry) watch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !isCharacterFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				r.loadFile(ev.Name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("character watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (r *Registry) Close() error {
	select {
	case <-r.done:
		return nil
	default:
	}
	close(r.done)
	var err error
	if r.watcher != nil {
		err = r.watcher.Close()
	}
	r.wg.Wait()
	return err
}

// Get returns the character data for an id.
func (r *Registry) Get(id string) (types.CharacterData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sheet, ok := r.sheets[id]
	if !ok {
		return types.CharacterData{}, false
	}
	return sheet.characterData(), true
}

// IDs returns every loaded character id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sheets))
	for id := range r.sheets {
		out = append(out, id)
	}
	return out
}

// NewAgent constructs a live agent state from a loaded character: character
// data, starting location, and the sheet's goals.
func (r *Registry) NewAgent(id string) (*types.AgentState, error) {
	r.mu.RLock()
	sheet, ok := r.sheets[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown character %q", id)
	}
	state := types.NewAgentState(id, sheet.characterData())
	state.SetLocation(sheet.Location)
	for i, g := range sheet.Goals {
		state.AddGoal(types.Goal{
			ID:          fmt.Sprintf("%s-goal-%d", id, i),
			Name:        g.Name,
			Description: g.Description,
			Urgency:     g.Urgency,
			Importance:  g.Importance,
			Feasibility: g.Feasibility,
			Alignment:   g.Alignment,
			Opportunity: g.Opportunity,
		})
	}
	return state, nil
}

func (s *CharacterSheet) characterData() types.CharacterData {
	return types.CharacterData{
		Name:            s.Name,
		Faction:         s.Faction,
		Description:     s.Description,
		Personality:     copyMap(s.Personality),
		DecisionWeights: copyMap(s.Weights),
	}
}

func copyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
