package section

import (
	"time"

	"github.com/ehr/history/internal/platform/errclass"
	"github.com/ehr/history/internal/platform/retry"
)

// State is the lifecycle state of a section. Attempt is the attempt in
// flight while loading and the next attempt while retrying.
type State struct {
	Phase      Phase
	HasPatient bool
	Attempt    int
	Delay      time.Duration
	Kind       errclass.Kind
}

// EventType identifies a lifecycle event.
type EventType int

const (
	EventBind EventType = iota
	EventUnbind
	EventFetch
	EventRetryFire
	EventSuccess
	EventFailure
	EventCancelRetry
)

// Event drives NextState. Kind and CanRetry are set for EventFailure.
type Event struct {
	Type     EventType
	Kind     errclass.Kind
	CanRetry bool
}

// NextState is the pure transition function of the section lifecycle:
//
//	idle -> loading -> ready
//	             \-> retrying(attempt) -> loading -> ...
//	             \-> error
//
// The second result is false when the event does not apply to the current
// state, in which case the state is returned unchanged.
func NextState(p retry.Policy, s State, e Event) (State, bool) {
	switch e.Type {
	case EventBind:
		return State{Phase: PhaseIdle, HasPatient: true}, true
	case EventUnbind:
		return State{Phase: PhaseIdle}, true
	case EventFetch:
		if !s.HasPatient || s.Phase == PhaseLoading || s.Phase == PhaseRetrying {
			return s, false
		}
		return State{Phase: PhaseLoading, HasPatient: true, Attempt: 1}, true
	case EventRetryFire:
		if s.Phase != PhaseRetrying {
			return s, false
		}
		return State{Phase: PhaseLoading, HasPatient: s.HasPatient, Attempt: s.Attempt, Kind: s.Kind}, true
	case EventSuccess:
		if s.Phase != PhaseLoading {
			return s, false
		}
		return State{Phase: PhaseReady, HasPatient: s.HasPatient}, true
	case EventFailure:
		if s.Phase != PhaseLoading {
			return s, false
		}
		if p.ShouldRetry(e.CanRetry, s.Attempt) {
			return State{
				Phase:      PhaseRetrying,
				HasPatient: s.HasPatient,
				Attempt:    s.Attempt + 1,
				Delay:      p.DelayForAttempt(s.Attempt),
				Kind:       e.Kind,
			}, true
		}
		return State{Phase: PhaseError, HasPatient: s.HasPatient, Attempt: s.Attempt, Kind: e.Kind}, true
	case EventCancelRetry:
		if s.Phase != PhaseRetrying {
			return s, false
		}
		return State{Phase: PhaseError, HasPatient: s.HasPatient, Attempt: s.Attempt - 1, Kind: s.Kind}, true
	}
	return s, false
}
