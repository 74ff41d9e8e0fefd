// Package patient tracks the patient currently selected in the regulation
// screen and notifies subscribers when the selection changes identity.
package patient

import (
	"strings"
	"sync"
)

// Patient identifies a patient in the legacy server. ID and FullPK are the
// two keys every legacy endpoint expects.
type Patient struct {
	ID        string `json:"isenPK"`
	FullPK    string `json:"isenFullPKCrypto"`
	Name      string `json:"nome,omitempty"`
	CNS       string `json:"cns,omitempty"`
	BirthDate string `json:"dataNascimento,omitempty"`
}

// SameIdentity reports whether a and b denote the same patient. Two nil
// patients are the same; display fields are ignored.
func SameIdentity(a, b *Patient) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.TrimSpace(a.ID) == strings.TrimSpace(b.ID) &&
		strings.TrimSpace(a.FullPK) == strings.TrimSpace(b.FullPK)
}

// Listener receives the new patient (nil when the selection is cleared).
type Listener func(p *Patient)

// State holds the current patient.
type State struct {
	mu        sync.RWMutex
	current   *Patient
	nextID    int
	listeners map[int]Listener
	order     []int
}

func NewState() *State {
	return &State{listeners: make(map[int]Listener)}
}

// Current returns a copy of the current patient, or nil.
func (s *State) Current() *Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	p := *s.current
	return &p
}

// Set replaces the current patient. Listeners are notified only when the
// identity changes; it reports whether it did.
func (s *State) Set(p *Patient) bool {
	var next *Patient
	if p != nil {
		cp := *p
		next = &cp
	}

	s.mu.Lock()
	if SameIdentity(s.current, next) {
		s.current = next
		s.mu.Unlock()
		return false
	}
	s.current = next
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		if next == nil {
			l(nil)
			continue
		}
		cp := *next
		l(&cp)
	}
	return true
}

// Clear is Set(nil).
func (s *State) Clear() bool { return s.Set(nil) }

// Subscribe registers l and returns a function that removes it.
func (s *State) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[id]; !ok {
			return
		}
		delete(s.listeners, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}
