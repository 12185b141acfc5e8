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

package memory

import "container/list"

// workingSet is the fixed-capacity LRU of memory ids an agent is actively
// holding in mind. Not safe for concurrent use; the Store's mutex guards it.
type workingSet struct {
	capacity int
	order    *list.List // front = most recently used
	index    map[string]*list.Element
}

func newWorkingSet(capacity int) *workingSet {
	return &workingSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// touch marks id as most recently used, evicting the least recent entry
// when the window is full.
func (w *workingSet) touch(id string) {
	if el, ok := w.index[id]; ok {
		w.order.MoveToFront(el)
		return
	}
	w.index[id] = w.order.PushFront(id)
	for w.order.Len() > w.capacity {
		oldest := w.order.Back()
		w.order.Remove(oldest)
		delete(w.index, oldest.Value.(string))
	}
}

// remove drops id from the window.
func (w *workingSet) remove(id string) {
	if el, ok := w.index[id]; ok {
		w.order.Remove(el)
		delete(w.index, id)
	}
}

// ids returns the window contents, most recently used first.
func (w *workingSet) ids() []string {
	out := make([]string, 0, w.order.Len())
	for el := w.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}
