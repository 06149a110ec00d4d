// Package flow defines the versioned flow model: the task tree, concurrency
// policy, triggers, inputs and SLA policies that executions are created from.
package flow

// ConcurrencyBehavior selects what happens to a new execution when the
// per-flow concurrency limit is already reached.
type ConcurrencyBehavior string

const (
	BehaviorQueue  ConcurrencyBehavior = "QUEUE"
	BehaviorCancel ConcurrencyBehavior = "CANCEL"
	BehaviorFail   ConcurrencyBehavior = "FAIL"
)

// Concurrency bounds how many executions of one flow may occupy a slot
// (QUEUED or RUNNING) at the same time.
type Concurrency struct {
	Limit    int                 `json:"limit"    yaml:"limit"    validate:"required,gt=0"`
	Behavior ConcurrencyBehavior `json:"behavior" yaml:"behavior" validate:"required,oneof=QUEUE CANCEL FAIL"`
}

// SLABehavior selects how a violated SLA is enforced.
type SLABehavior string

const (
	SLACancel SLABehavior = "CANCEL"
	SLAFail   SLABehavior = "FAIL"
	SLALabel  SLABehavior = "LABEL"
)

// SLA bounds an execution's duration independently of task outcomes.
type SLA struct {
	ID          string            `json:"id"           yaml:"id"           validate:"required"`
	MaxDuration Duration          `json:"max_duration" yaml:"max_duration" validate:"required,gt=0"`
	Behavior    SLABehavior       `json:"behavior"     yaml:"behavior"     validate:"required,oneof=CANCEL FAIL LABEL"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Flow is the immutable, versioned definition of a task tree plus its
// policies. Every execution pins the revision it was created from.
type Flow struct {
	ID        string `json:"id"        yaml:"id"        validate:"required"`
	Namespace string `json:"namespace" yaml:"namespace" validate:"required"`
	TenantID  string `json:"tenant_id" yaml:"tenant_id"`
	Revision  int    `json:"revision"  yaml:"revision"`

	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"      yaml:"labels,omitempty"`
	Disabled    bool              `json:"disabled"              yaml:"disabled"`

	Inputs   []Input   `json:"inputs,omitempty"   yaml:"inputs,omitempty"`
	Triggers []Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	Tasks          []Task `json:"tasks"                     yaml:"tasks"                     validate:"required,min=1"`
	Errors         []Task `json:"errors,omitempty"          yaml:"errors,omitempty"`
	Finally        []Task `json:"finally,omitempty"         yaml:"finally,omitempty"`
	AfterExecution []Task `json:"after_execution,omitempty" yaml:"after_execution,omitempty"`

	Concurrency *Concurrency `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	SLAs        []SLA        `json:"slas,omitempty"        yaml:"slas,omitempty"`
}

// UID identifies one revision of a flow across tenants and namespaces.
func (f *Flow) UID() string {
	return f.TenantID + "/" + f.Namespace + "/" + f.ID
}

// FindTask walks the whole tree (tasks, errors, finally, afterExecution)
// and returns the task with the given id.
func (f *Flow) FindTask(id string) (*Task, bool) {
	for _, scope := range [][]Task{f.Tasks, f.Errors, f.Finally, f.AfterExecution} {
		if task, ok := findTaskIn(scope, id); ok {
			return task, true
		}
	}

	return nil, false
}

// FindParentTask returns the flowable task owning the task with the given
// id, or false when the task is declared at a root scope.
func (f *Flow) FindParentTask(id string) (*Task, bool) {
	for _, scope := range [][]Task{f.Tasks, f.Errors, f.Finally, f.AfterExecution} {
		if parent, ok := findParentIn(scope, id); ok {
			return parent, true
		}
	}

	return nil, false
}

// AllTasks returns every task in the tree in declaration order, parents
// before children.
func (f *Flow) AllTasks() []*Task {
	var out []*Task
	for _, scope := range []([]Task){f.Tasks, f.Errors, f.Finally, f.AfterExecution} {
		collectTasks(scope, &out)
	}

	return out
}

// MaxDurationSLA returns the tightest MAX_DURATION SLA, or nil.
func (f *Flow) MaxDurationSLA() *SLA {
	var tightest *SLA

	for i := range f.SLAs {
		sla := &f.SLAs[i]
		if tightest == nil || sla.MaxDuration < tightest.MaxDuration {
			tightest = sla
		}
	}

	return tightest
}

func collectTasks(tasks []Task, out *[]*Task) {
	for i := range tasks {
		task := &tasks[i]
		*out = append(*out, task)

		for _, branch := range task.Branches() {
			collectTasks(branch, out)
		}
	}
}

func findTaskIn(tasks []Task, id string) (*Task, bool) {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i], true
		}

		for _, branch := range tasks[i].Branches() {
			if found, ok := findTaskIn(branch, id); ok {
				return found, ok
			}
		}
	}

	return nil, false
}

func findParentIn(tasks []Task, id string) (*Task, bool) {
	for i := range tasks {
		for _, branch := range tasks[i].Branches() {
			for j := range branch {
				if branch[j].ID == id {
					return &tasks[i], true
				}
			}

			if parent, ok := findParentIn(branch, id); ok {
				return parent, ok
			}
		}
	}

	return nil, false
}
