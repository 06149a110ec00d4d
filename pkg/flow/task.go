package flow

// Flowable task types. Any other Type value designates a leaf runnable
// resolved through the worker's runnable registry.
const (
	TypeSequential       = "sequential"
	TypeParallel         = "parallel"
	TypeEachSequential   = "each-sequential"
	TypeEachParallel     = "each-parallel"
	TypeForEachItem      = "for-each-item"
	TypeIf               = "if"
	TypeSwitch           = "switch"
	TypeDag              = "dag"
	TypeLoopUntil        = "loop-until"
	TypePause            = "pause"
	TypeWorkingDirectory = "working-directory"
	TypeSubflow          = "subflow"
)

// PauseBehavior selects what happens when a pause task's timeout elapses
// without a manual resume.
type PauseBehavior string

const (
	PauseResume PauseBehavior = "RESUME"
	PauseFail   PauseBehavior = "FAIL"
	PauseWarn   PauseBehavior = "WARN"
	PauseCancel PauseBehavior = "CANCEL"
)

// SwitchCase binds one candidate value of a switch expression to a branch.
// Cases are an ordered list so sibling task ids stay deterministic.
type SwitchCase struct {
	Value string `json:"value" yaml:"value" validate:"required"`
	Tasks []Task `json:"tasks" yaml:"tasks" validate:"required,min=1"`
}

// SubflowSpec references the flow a subflow task spawns.
type SubflowSpec struct {
	Namespace string            `json:"namespace" yaml:"namespace" validate:"required"`
	FlowID    string            `json:"flow_id"   yaml:"flow_id"   validate:"required"`
	Revision  *int              `json:"revision,omitempty" yaml:"revision,omitempty"`
	Inputs    map[string]any    `json:"inputs,omitempty"   yaml:"inputs,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"   yaml:"labels,omitempty"`
	// Wait blocks the parent task run until the child execution is
	// terminal. When false the task run succeeds as soon as the child is
	// created.
	Wait bool `json:"wait" yaml:"wait"`
	// TransmitFailed propagates a failed child state to the parent task
	// run when waiting.
	TransmitFailed bool `json:"transmit_failed" yaml:"transmit_failed"`
}

// ForEachItemSpec splits a referenced items expression into fixed-size
// batches, one subflow execution per batch.
type ForEachItemSpec struct {
	Items     string      `json:"items"     yaml:"items"     validate:"required"`
	BatchRows int         `json:"batch_rows" yaml:"batch_rows"`
	Subflow   SubflowSpec `json:"subflow"   yaml:"subflow"`
}

// Task is a node of the flow tree: a closed tagged variant over the
// flowable composition kinds plus leaf runnables. The Type discriminator
// selects which of the per-kind fields are meaningful.
type Task struct {
	ID   string `json:"id"   yaml:"id"   validate:"required"`
	Type string `json:"type" yaml:"type" validate:"required"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// RunIf guards the task: rendered as a boolean, false materializes the
	// task run directly as SKIPPED.
	RunIf string `json:"run_if,omitempty" yaml:"run_if,omitempty"`

	// AllowFailure reclassifies a FAILED outcome as WARNING in the
	// ancestor aggregation. AllowWarning downgrades WARNING to SUCCESS.
	AllowFailure bool `json:"allow_failure,omitempty" yaml:"allow_failure,omitempty"`
	AllowWarning bool `json:"allow_warning,omitempty" yaml:"allow_warning,omitempty"`

	Retry   *RetryPolicy  `json:"retry,omitempty"   yaml:"retry,omitempty"`
	Timeout Duration      `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Tasks holds the children of sequential, parallel, working-directory,
	// each-*, loop-until and dag containers, and the optional post-resume
	// tasks of a pause.
	Tasks []Task `json:"tasks,omitempty" yaml:"tasks,omitempty"`

	// Condition is the boolean expression of if and loop-until tasks and
	// the string expression of switch tasks.
	Condition string       `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      []Task       `json:"then,omitempty"      yaml:"then,omitempty"`
	Else      []Task       `json:"else,omitempty"      yaml:"else,omitempty"`
	Cases     []SwitchCase `json:"cases,omitempty"     yaml:"cases,omitempty"`
	Defaults  []Task       `json:"defaults,omitempty"  yaml:"defaults,omitempty"`

	// Values is the expression producing the iteration items of each-*
	// containers. ConcurrencyLimit bounds each-parallel; zero is unbounded.
	Values           string `json:"values,omitempty"            yaml:"values,omitempty"`
	ConcurrencyLimit int    `json:"concurrency_limit,omitempty" yaml:"concurrency_limit,omitempty"`

	// DependsOn lists predecessor task ids inside a dag container.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// LoopUntil bounds.
	MaxIterations int           `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	MaxDuration   Duration      `json:"max_duration,omitempty"   yaml:"max_duration,omitempty"`

	// Pause settings. A zero PauseDuration pauses until a manual resume.
	PauseDuration  Duration      `json:"pause_duration,omitempty"  yaml:"pause_duration,omitempty"`
	OnPauseTimeout PauseBehavior `json:"on_pause_timeout,omitempty" yaml:"on_pause_timeout,omitempty"`

	Subflow     *SubflowSpec     `json:"subflow,omitempty"       yaml:"subflow,omitempty"`
	ForEachItem *ForEachItemSpec `json:"for_each_item,omitempty" yaml:"for_each_item,omitempty"`

	// Config carries the opaque configuration of leaf runnables.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// IsFlowable reports whether the task derives its state from children or
// spawned executions rather than from a worker run.
func (t *Task) IsFlowable() bool {
	switch t.Type {
	case TypeSequential, TypeParallel, TypeEachSequential, TypeEachParallel,
		TypeForEachItem, TypeIf, TypeSwitch, TypeDag, TypeLoopUntil,
		TypePause, TypeWorkingDirectory, TypeSubflow:
		return true
	default:
		return false
	}
}

// Branches returns every declared child branch of the task, selected or
// not. Used for tree walks, id uniqueness checks and SKIPPED accounting.
func (t *Task) Branches() [][]Task {
	var branches [][]Task

	if len(t.Tasks) > 0 {
		branches = append(branches, t.Tasks)
	}

	if len(t.Then) > 0 {
		branches = append(branches, t.Then)
	}

	if len(t.Else) > 0 {
		branches = append(branches, t.Else)
	}

	for i := range t.Cases {
		branches = append(branches, t.Cases[i].Tasks)
	}

	if len(t.Defaults) > 0 {
		branches = append(branches, t.Defaults)
	}

	return branches
}
