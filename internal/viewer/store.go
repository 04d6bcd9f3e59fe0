package viewer

import (
	"sort"
	"sync"
)

// Store keeps one State per clip set key.
type Store struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewStore() *Store {
	return &Store{states: make(map[string]*State)}
}

// View returns the state of set, or the default state when none exists yet.
func (s *Store) View(set string) View {
	s.mu.RLock()
	st, ok := s.states[set]
	if ok {
		v := st.View(set)
		s.mu.RUnlock()
		return v
	}
	s.mu.RUnlock()
	return NewState().View(set)
}

// Snapshot returns the panes of set in display order.
func (s *Store) Snapshot(set string) []Pane {
	return s.View(set).Panes
}

// Update applies fn to the state of set under the write lock, creating the
// state on first use. Changes are kept even when fn fails part-way.
func (s *Store) Update(set string, fn func(*State) error) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[set]
	if !ok {
		st = NewState()
		s.states[set] = st
	}
	if err := fn(st); err != nil {
		return View{}, err
	}
	return st.View(set), nil
}

func (s *Store) Delete(set string) {
	s.mu.Lock()
	delete(s.states, set)
	s.mu.Unlock()
}

// Sets lists the keys with stored state.
func (s *Store) Sets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
