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

package coherence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/fable/pkg/types"
)

// significantWeight is the narrative weight an event needs to count toward a
// character arc or to open a new plot thread.
const significantWeight = 0.5

// stageSpan is how many significant events advance an arc one stage.
const stageSpan = 5

// arcStages, in order. The last stage is sticky.
var arcStages = []string{
	"introduction",
	"rising_action",
	"complication",
	"climax",
	"resolution",
}

// CharacterArc tracks one actor's significant events and a coarse stage tag
// derived from how many the actor has accumulated.
type CharacterArc struct {
	Actor     string    `json:"actor"`
	EventIDs  []string  `json:"event_ids"`
	Stage     string    `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

func stageFor(n int) string {
	idx := (n - 1) / stageSpan
	if idx >= len(arcStages) {
		idx = len(arcStages) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return arcStages[idx]
}

type arcSet struct {
	mu   sync.RWMutex
	arcs map[string]*CharacterArc
}

func newArcSet() *arcSet {
	return &arcSet{arcs: make(map[string]*CharacterArc)}
}

// record folds an accepted event into its actor's arc. Low-weight events and
// actorless events leave the arcs untouched.
func (s *arcSet) record(e *types.Event) {
	if e.Actor == "" || e.NarrativeWeight <= significantWeight {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arc, ok := s.arcs[e.Actor]
	if !ok {
		arc = &CharacterArc{Actor: e.Actor}
		s.arcs[e.Actor] = arc
	}
	arc.EventIDs = append(arc.EventIDs, e.ID)
	arc.Stage = stageFor(len(arc.EventIDs))
	arc.UpdatedAt = e.Timestamp
}

func (s *arcSet) get(actor string) *CharacterArc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arc, ok := s.arcs[actor]
	if !ok {
		return nil
	}
	return arc.clone()
}

func (s *arcSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arcs)
}

func (s *arcSet) snapshot() []*CharacterArc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CharacterArc, 0, len(s.arcs))
	for _, arc := range s.arcs {
		out = append(out, arc.clone())
	}
	return out
}

func (s *arcSet) restore(arcs []*CharacterArc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arcs = make(map[string]*CharacterArc, len(arcs))
	for _, arc := range arcs {
		if arc == nil || arc.Actor == "" {
			continue
		}
		s.arcs[arc.Actor] = arc.clone()
	}
}

func (a *CharacterArc) clone() *CharacterArc {
	c := *a
	c.EventIDs = append([]string(nil), a.EventIDs...)
	return &c
}

// PlotThread groups related accepted events by shared location, actor, or
// kind. A thread opens only for a significant event; once open it absorbs
// any related event regardless of weight.
type PlotThread struct {
	ID        string          `json:"id"`
	Locations map[string]bool `json:"locations"`
	Actors    map[string]bool `json:"actors"`
	Kinds     map[string]bool `json:"kinds"`
	EventIDs  []string        `json:"event_ids"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Active    bool            `json:"active"`
}

// matches reports whether the event shares a location, actor, or kind with
// the thread.
func (t *PlotThread) matches(e *types.Event) bool {
	if e.Location != "" && t.Locations[e.Location] {
		return true
	}
	if e.Actor != "" && t.Actors[e.Actor] {
		return true
	}
	for _, p := range e.Participants {
		if t.Actors[p] {
			return true
		}
	}
	return t.Kinds[e.Kind]
}

func (t *PlotThread) absorb(e *types.Event) {
	if e.Location != "" {
		t.Locations[e.Location] = true
	}
	if e.Actor != "" {
		t.Actors[e.Actor] = true
	}
	for _, p := range e.Participants {
		t.Actors[p] = true
	}
	t.Kinds[e.Kind] = true
	t.EventIDs = append(t.EventIDs, e.ID)
	t.UpdatedAt = e.Timestamp
}

func (t *PlotThread) clone() *PlotThread {
	c := *t
	c.Locations = copySet(t.Locations)
	c.Actors = copySet(t.Actors)
	c.Kinds = copySet(t.Kinds)
	c.EventIDs = append([]string(nil), t.EventIDs...)
	return &c
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type threadSet struct {
	mu      sync.RWMutex
	threads []*PlotThread
}

func newThreadSet() *threadSet {
	return &threadSet{}
}

// record attaches the event to the first active thread it relates to, or
// opens a new thread when the event carries enough narrative weight.
func (s *threadSet) record(e *types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.Active && t.matches(e) {
			t.absorb(e)
			return
		}
	}
	if e.NarrativeWeight <= significantWeight {
		return
	}
	t := &PlotThread{
		ID:        uuid.New().String(),
		Locations: make(map[string]bool),
		Actors:    make(map[string]bool),
		Kinds:     make(map[string]bool),
		CreatedAt: e.Timestamp,
		Active:    true,
	}
	t.absorb(e)
	s.threads = append(s.threads, t)
}

func (s *threadSet) all() []*PlotThread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PlotThread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t.clone())
	}
	return out
}

func (s *threadSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

func (s *threadSet) snapshot() []*PlotThread {
	return s.all()
}

func (s *threadSet) restore(threads []*PlotThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make([]*PlotThread, 0, len(threads))
	for _, t := range threads {
		if t == nil || t.ID == "" {
			continue
		}
		s.threads = append(s.threads, t.clone())
	}
}
