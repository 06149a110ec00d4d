// Package memory provides the in-memory repository used by tests and
// single-process development setups.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/state"
)

type FlowRepository struct {
	mu    sync.RWMutex
	flows map[string][]*flow.Flow // uid -> revisions ascending
}

func NewFlowRepository() *FlowRepository {
	return &FlowRepository{flows: make(map[string][]*flow.Flow)}
}

func flowUID(tenant, namespace, id string) string {
	return tenant + "/" + namespace + "/" + id
}

func (r *FlowRepository) Save(_ context.Context, f *flow.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid := flowUID(f.TenantID, f.Namespace, f.ID)
	revisions := r.flows[uid]

	if f.Revision == 0 {
		f.Revision = len(revisions) + 1
	}

	for i, existing := range revisions {
		if existing.Revision == f.Revision {
			revisions[i] = f

			return nil
		}
	}

	r.flows[uid] = append(revisions, f)

	return nil
}

func (r *FlowRepository) FindByID(_ context.Context, tenant, namespace, id string, revision *int) (*flow.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	revisions := r.flows[flowUID(tenant, namespace, id)]
	if len(revisions) == 0 {
		return nil, fmt.Errorf("%w: %s/%s/%s", repository.ErrFlowNotFound, tenant, namespace, id)
	}

	if revision == nil {
		return revisions[len(revisions)-1], nil
	}

	for _, f := range revisions {
		if f.Revision == *revision {
			return f, nil
		}
	}

	return nil, fmt.Errorf("%w: %s/%s/%s revision %d", repository.ErrFlowNotFound, tenant, namespace, id, *revision)
}

func (r *FlowRepository) List(_ context.Context, tenant, namespace string) ([]*flow.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*flow.Flow

	for _, revisions := range r.flows {
		latest := revisions[len(revisions)-1]
		if tenant != "" && latest.TenantID != tenant {
			continue
		}

		if namespace != "" && latest.Namespace != namespace {
			continue
		}

		out = append(out, latest)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// ExecutionRepository keeps deep copies so callers never share mutable
// state with the store, mirroring a real document store's behavior.
type ExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]*execution.Execution
	order      []string // insertion order, used for FIFO queued lookups
}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{executions: make(map[string]*execution.Execution)}
}

func (r *ExecutionRepository) Save(_ context.Context, e *execution.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executions[e.ID]; !exists {
		r.order = append(r.order, e.ID)
	}

	r.executions[e.ID] = deepCopy(e)

	return nil
}

func (r *ExecutionRepository) FindByID(_ context.Context, id string) (*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrExecutionNotFound, id)
	}

	return deepCopy(e), nil
}

func (r *ExecutionRepository) CountRunning(_ context.Context, tenant, namespace, flowID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for _, e := range r.executions {
		if !matches(e, tenant, namespace, flowID) {
			continue
		}

		if e.State.Current == state.Queued || e.State.Current == state.Running ||
			e.State.Current == state.Paused || e.State.Current == state.Killing ||
			e.State.Current == state.Retrying {
			count++
		}
	}

	return count, nil
}

func (r *ExecutionRepository) FindOldestQueued(_ context.Context, tenant, namespace, flowID string) (*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		e := r.executions[id]
		if matches(e, tenant, namespace, flowID) && e.State.Current == state.Queued {
			return deepCopy(e), nil
		}
	}

	return nil, fmt.Errorf("%w: no queued execution for %s/%s/%s", repository.ErrExecutionNotFound, tenant, namespace, flowID)
}

func (r *ExecutionRepository) FindByStates(_ context.Context, tenant, namespace, flowID string, states []state.Type) ([]*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*execution.Execution

	for _, id := range r.order {
		e := r.executions[id]
		if !matches(e, tenant, namespace, flowID) {
			continue
		}

		for _, s := range states {
			if e.State.Current == s {
				out = append(out, deepCopy(e))

				break
			}
		}
	}

	return out, nil
}

func (r *ExecutionRepository) FindChildren(_ context.Context, parentID string) ([]*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*execution.Execution

	for _, id := range r.order {
		e := r.executions[id]
		if e.ParentID == parentID {
			out = append(out, deepCopy(e))
		}
	}

	return out, nil
}

func matches(e *execution.Execution, tenant, namespace, flowID string) bool {
	if e.TenantID != tenant || e.Namespace != namespace {
		return false
	}

	return flowID == "" || e.FlowID == flowID
}

func deepCopy(e *execution.Execution) *execution.Execution {
	data, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Sprintf("execution not serializable: %v", err))
	}

	var out execution.Execution
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("execution not deserializable: %v", err))
	}

	return &out
}
