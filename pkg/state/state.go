// Package state defines the execution and task run state machine.
package state

import (
	"errors"
	"fmt"
	"time"
)

// Type is one of the lifecycle states an execution or task run can be in.
type Type string

const (
	Created   Type = "CREATED"
	Queued    Type = "QUEUED"
	Restarted Type = "RESTARTED"
	Running   Type = "RUNNING"
	Paused    Type = "PAUSED"
	Retrying  Type = "RETRYING"
	Retried   Type = "RETRIED"
	Success   Type = "SUCCESS"
	Warning   Type = "WARNING"
	Failed    Type = "FAILED"
	Killing   Type = "KILLING"
	Killed    Type = "KILLED"
	Cancelled Type = "CANCELLED"
	Skipped   Type = "SKIPPED"
)

// ErrIllegalTransition is returned when a transition is not in the legal
// transition table. Callers must treat it as an internal invariant
// violation: log, reject the operation and leave the state untouched.
var ErrIllegalTransition = errors.New("illegal state transition")

// transitions is the legal transition table. Any non-terminal state may
// additionally transition to KILLING on a kill request; SKIPPED and
// RETRIED are only ever injected directly, never transitioned into.
// RESTARTED is the one exit out of a terminal state: a restart operation
// revives a FAILED, KILLED or CANCELLED execution.
var transitions = map[Type][]Type{
	Created:   {Queued, Running, Cancelled, Failed},
	Queued:    {Running, Cancelled, Killed},
	Running:   {Paused, Success, Warning, Failed, Cancelled, Killing, Retrying},
	Paused:    {Running, Failed, Warning, Cancelled},
	Retrying:  {Running, Retried},
	Restarted: {Queued, Running},
	Killing:   {Killed},
	Failed:    {Restarted},
	Killed:    {Restarted},
	Cancelled: {Restarted},
}

// IsTerminal reports whether the state is final for aggregation purposes.
func (t Type) IsTerminal() bool {
	switch t {
	case Success, Warning, Failed, Killed, Cancelled, Skipped:
		return true
	default:
		return false
	}
}

func (t Type) IsFailed() bool {
	return t == Failed
}

func (t Type) IsPaused() bool {
	return t == Paused
}

func (t Type) IsRunning() bool {
	return t == Running || t == Killing
}

// IsCreated reports whether the state still awaits its first transition.
func (t Type) IsCreated() bool {
	return t == Created
}

// CanTransitionTo reports whether the transition table allows moving from t
// to target. KILLING is reachable from any non-terminal state.
func (t Type) CanTransitionTo(target Type) bool {
	if target == Killing && !t.IsTerminal() {
		return true
	}

	for _, allowed := range transitions[t] {
		if allowed == target {
			return true
		}
	}

	return false
}

// History is one entry in a state's append-only history.
type History struct {
	State Type      `json:"state"`
	Date  time.Time `json:"date"`
}

// State combines the current state type with its full append-only history.
// The current type is always the type of the last history entry.
type State struct {
	Current   Type      `json:"current"`
	Histories []History `json:"histories"`
}

// New returns a State initialized at the given type with a single history
// entry.
func New(t Type) State {
	return State{
		Current: t,
		Histories: []History{
			{State: t, Date: time.Now().UTC()},
		},
	}
}

// WithState appends a transition to the history and returns the new State.
// The receiver is not mutated. An illegal transition returns
// ErrIllegalTransition and the zero State.
func (s State) WithState(t Type) (State, error) {
	if !s.Current.CanTransitionTo(t) {
		return State{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Current, t)
	}

	histories := make([]History, len(s.Histories), len(s.Histories)+1)
	copy(histories, s.Histories)
	histories = append(histories, History{State: t, Date: time.Now().UTC()})

	return State{Current: t, Histories: histories}, nil
}

// StartDate returns the timestamp of the first history entry.
func (s State) StartDate() time.Time {
	if len(s.Histories) == 0 {
		return time.Time{}
	}

	return s.Histories[0].Date
}

// EndDate returns the timestamp of the last history entry if the state is
// terminal, and the zero time otherwise.
func (s State) EndDate() time.Time {
	if !s.Current.IsTerminal() || len(s.Histories) == 0 {
		return time.Time{}
	}

	return s.Histories[len(s.Histories)-1].Date
}

// Duration returns the wall-clock time between the first history entry and
// either the terminal entry or now.
func (s State) Duration() time.Duration {
	if len(s.Histories) == 0 {
		return 0
	}

	if end := s.EndDate(); !end.IsZero() {
		return end.Sub(s.StartDate())
	}

	return time.Now().UTC().Sub(s.StartDate())
}

// EnteredAt returns the timestamp of the most recent occurrence of t in the
// history, or the zero time if t never occurred.
func (s State) EnteredAt(t Type) time.Time {
	for i := len(s.Histories) - 1; i >= 0; i-- {
		if s.Histories[i].State == t {
			return s.Histories[i].Date
		}
	}

	return time.Time{}
}

// Visited reports whether t appears anywhere in the history.
func (s State) Visited(t Type) bool {
	return !s.EnteredAt(t).IsZero()
}
