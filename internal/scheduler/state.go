package scheduler

import "fmt"

// State is the scheduler lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateReporting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transition moves from one state to the next, rejecting anything out of
// order.
func (s *Scheduler) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("scheduler: cannot move to %s from %s", to, s.state)
	}
	s.state = to
	return nil
}
