// Package fsm is a small, strict state machine runner. Unknown transitions
// are errors: callers must enumerate every legal edge up front, which keeps
// the job lifecycle table reviewable in one place.
package fsm

import (
	"fmt"
	"sync"
)

// Transition describes a single edge: firing Event while in From moves the
// machine to To.
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

// Machine runs a transition table. Safe for concurrent use.
type Machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	index map[string]S
}

// New builds a machine at initial. Duplicate (from, event) edges are rejected
// so a table cannot silently shadow itself.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]S, len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t.To
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

// Current returns the machine's state.
func (m *Machine[S, E]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies event atomically and returns the states on both sides of the
// edge. On an illegal event the state is unchanged and from==to.
func (m *Machine[S, E]) Fire(event E) (from S, to S, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from = m.state
	next, ok := m.index[key(from, event)]
	if !ok {
		return from, from, fmt.Errorf("invalid transition: state=%s event=%s", from, event)
	}
	m.state = next
	return from, next, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
