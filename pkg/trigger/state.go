package trigger

import (
	"context"
	"sync"
	"time"
)

// SatisfiedCondition records one precondition met by an upstream
// execution, kept until the trigger fires or the window expires.
type SatisfiedCondition struct {
	ExecutionID string         `json:"execution_id"`
	At          time.Time      `json:"at"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

// State is the durable evaluation state of one trigger instance.
type State struct {
	// LastFire anchors the next schedule computation.
	LastFire time.Time `json:"last_fire,omitempty"`
	// Satisfied maps precondition ids to the upstream execution that met
	// them, for flow-listener and multiple-condition triggers.
	Satisfied map[string]SatisfiedCondition `json:"satisfied,omitempty"`
}

// StateStore persists trigger evaluation state across scheduler restarts,
// keyed by flow UID and trigger id.
type StateStore interface {
	Get(ctx context.Context, flowUID, triggerID string) (State, error)
	Put(ctx context.Context, flowUID, triggerID string, s State) error
}

// MemoryStateStore is an in-process StateStore for tests and single-node
// deployments.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func stateKey(flowUID, triggerID string) string {
	return flowUID + "#" + triggerID
}

func (s *MemoryStateStore) Get(_ context.Context, flowUID, triggerID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.states[stateKey(flowUID, triggerID)], nil
}

func (s *MemoryStateStore) Put(_ context.Context, flowUID, triggerID string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[stateKey(flowUID, triggerID)] = st

	return nil
}
