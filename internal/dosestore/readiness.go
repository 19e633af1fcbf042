package dosestore

import "fmt"

// ReadyKind is a readiness state of a DoseStore.
type ReadyKind int

const (
	NeedsConfiguration ReadyKind = iota
	Initializing
	Ready
	Failed
)

func (k ReadyKind) String() string {
	switch k {
	case NeedsConfiguration:
		return "needsConfiguration"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("ReadyKind(%d)", int(k))
	}
}

// ReadyState is the readiness of a DoseStore. Err is set only for Failed.
type ReadyState struct {
	Kind ReadyKind
	Err  error
}

func (s ReadyState) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s(%v)", s.Kind, s.Err)
	}
	return s.Kind.String()
}

// State returns the current readiness. Safe from any goroutine.
func (s *DoseStore) State() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *DoseStore) setState(state ReadyState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.logger.Info("readiness changed", "state", state.String())
	s.observers.publish(Notification{Kind: ReadinessChanged, State: state})
}

// requireReady returns the error for operations that need an open
// record store.
func (s *DoseStore) requireReady() error {
	state := s.State()
	switch state.Kind {
	case Ready:
		return nil
	case Failed:
		return initializationError(state.Err)
	case NeedsConfiguration:
		return configurationError("dose store has no record store", "call Configure with an opener")
	default:
		// Initialization runs as a single job, so no other job can observe it.
		panic(fmt.Sprintf("dosestore: job observed readiness %s", state))
	}
}
