package flow

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validation errors are rejected before any execution starts and never
// partially applied.
var (
	ErrDuplicateTaskID     = errors.New("duplicate task id")
	ErrCyclicDag           = errors.New("cyclic dag")
	ErrUnknownDependency   = errors.New("unknown dag dependency")
	ErrInvalidTask         = errors.New("invalid task")
	ErrInvalidFlow         = errors.New("invalid flow")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the cross-field rules the tags cannot
// express: task id uniqueness across the whole tree, per-kind required
// fields, dag dependency resolution and dag acyclicity.
func (f *Flow) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	seen := make(map[string]struct{})

	for _, task := range f.AllTasks() {
		if _, dup := seen[task.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskID, task.ID)
		}

		seen[task.ID] = struct{}{}

		if err := task.validateKind(); err != nil {
			return err
		}

		if task.Type == TypeDag {
			if err := validateDag(task); err != nil {
				return err
			}
		}
	}

	return nil
}

func (t *Task) validateKind() error {
	switch t.Type {
	case TypeSequential, TypeParallel, TypeWorkingDirectory, TypeDag:
		if len(t.Tasks) == 0 {
			return fmt.Errorf("%w: %s task %q has no children", ErrInvalidTask, t.Type, t.ID)
		}
	case TypeEachSequential, TypeEachParallel:
		if t.Values == "" {
			return fmt.Errorf("%w: %s task %q has no values expression", ErrInvalidTask, t.Type, t.ID)
		}

		if len(t.Tasks) == 0 {
			return fmt.Errorf("%w: %s task %q has no children", ErrInvalidTask, t.Type, t.ID)
		}
	case TypeIf:
		if t.Condition == "" {
			return fmt.Errorf("%w: if task %q has no condition", ErrInvalidTask, t.ID)
		}

		if len(t.Then) == 0 {
			return fmt.Errorf("%w: if task %q has no then branch", ErrInvalidTask, t.ID)
		}
	case TypeSwitch:
		if t.Condition == "" {
			return fmt.Errorf("%w: switch task %q has no condition", ErrInvalidTask, t.ID)
		}

		if len(t.Cases) == 0 {
			return fmt.Errorf("%w: switch task %q has no cases", ErrInvalidTask, t.ID)
		}
	case TypeLoopUntil:
		if t.Condition == "" {
			return fmt.Errorf("%w: loop-until task %q has no condition", ErrInvalidTask, t.ID)
		}

		if len(t.Tasks) == 0 {
			return fmt.Errorf("%w: loop-until task %q has no children", ErrInvalidTask, t.ID)
		}
	case TypeSubflow:
		if t.Subflow == nil {
			return fmt.Errorf("%w: subflow task %q has no subflow spec", ErrInvalidTask, t.ID)
		}
	case TypeForEachItem:
		if t.ForEachItem == nil {
			return fmt.Errorf("%w: for-each-item task %q has no spec", ErrInvalidTask, t.ID)
		}
	}

	return nil
}

// validateDag checks that every dependency resolves to a sibling and that
// the dependency graph has no cycle (Kahn's algorithm).
func validateDag(dag *Task) error {
	siblings := make(map[string]*Task, len(dag.Tasks))
	for i := range dag.Tasks {
		siblings[dag.Tasks[i].ID] = &dag.Tasks[i]
	}

	indegree := make(map[string]int, len(dag.Tasks))
	dependents := make(map[string][]string, len(dag.Tasks))

	for i := range dag.Tasks {
		child := &dag.Tasks[i]
		indegree[child.ID] = len(child.DependsOn)

		for _, dep := range child.DependsOn {
			if _, ok := siblings[dep]; !ok {
				return fmt.Errorf("%w: task %q depends on %q", ErrUnknownDependency, child.ID, dep)
			}

			dependents[dep] = append(dependents[dep], child.ID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	visited := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++

		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if visited != len(dag.Tasks) {
		return fmt.Errorf("%w: in dag task %q", ErrCyclicDag, dag.ID)
	}

	return nil
}
