package flow

import (
	"time"
)

// Trigger types.
const (
	TriggerSchedule          = "schedule"
	TriggerFlowListener      = "flow"
	TriggerMultipleCondition = "multiple-condition"
)

// Condition types attached to triggers.
const (
	ConditionExecutionFlow     = "execution-flow"      // upstream namespace/flow match
	ConditionExecutionState    = "execution-state"     // upstream terminal state match
	ConditionTimeBetween       = "time-between"        // candidate instant inside a daily window
	ConditionDateBetween       = "date-between"        // candidate instant inside a date range
	ConditionDayWeekInMonth    = "day-week-in-month"   // e.g. first Monday of the month
	ConditionExpression        = "expression"          // free-form boolean expression
	ConditionExecutionLabels   = "execution-labels"    // upstream label match
	ConditionExecutionOutputs  = "execution-outputs"   // boolean expression over upstream outputs
)

// DayInMonth selects which occurrence of a weekday the day-week-in-month
// condition accepts.
type DayInMonth string

const (
	DayInMonthFirst  DayInMonth = "FIRST"
	DayInMonthSecond DayInMonth = "SECOND"
	DayInMonthThird  DayInMonth = "THIRD"
	DayInMonthFourth DayInMonth = "FOURTH"
	DayInMonthLast   DayInMonth = "LAST"
)

// Condition is a secondary predicate evaluated against either a candidate
// schedule instant or an upstream execution, depending on its type.
type Condition struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Type string `json:"type"         yaml:"type" validate:"required"`

	// execution-flow
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	// NamespacePrefix matches the upstream namespace and all children.
	NamespacePrefix bool   `json:"namespace_prefix,omitempty" yaml:"namespace_prefix,omitempty"`
	FlowID          string `json:"flow_id,omitempty"          yaml:"flow_id,omitempty"`

	// execution-state
	States []string `json:"states,omitempty" yaml:"states,omitempty"`

	// execution-labels
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// time-between / date-between; times in "15:04" form, dates RFC 3339.
	After  string `json:"after,omitempty"  yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`

	// day-week-in-month
	Weekday    time.Weekday `json:"weekday,omitempty"      yaml:"weekday,omitempty"`
	DayInMonth DayInMonth   `json:"day_in_month,omitempty" yaml:"day_in_month,omitempty"`

	// expression / execution-outputs
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Backfill replays a schedule trigger through a bounded historical window
// starting at Start.
type Backfill struct {
	Start time.Time `json:"start" yaml:"start" validate:"required"`
}

// Trigger declares when new executions of the flow are created.
type Trigger struct {
	ID   string `json:"id"   yaml:"id"   validate:"required"`
	Type string `json:"type" yaml:"type" validate:"required,oneof=schedule flow multiple-condition"`

	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// schedule
	Cron     string    `json:"cron,omitempty"     yaml:"cron,omitempty"`
	Timezone string    `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Backfill *Backfill `json:"backfill,omitempty" yaml:"backfill,omitempty"`

	// flow listener
	Preconditions []Condition `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	// ResetOnSuccess clears satisfied preconditions once the listener
	// fires; when false a satisfied precondition stays satisfied.
	ResetOnSuccess *bool `json:"reset_on_success,omitempty" yaml:"reset_on_success,omitempty"`

	// multiple-condition
	Window Duration      `json:"window,omitempty" yaml:"window,omitempty"`

	// Conditions are secondary predicates that must all accept before an
	// execution is created.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	Inputs map[string]any    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ResetsOnSuccess defaults to true when unset.
func (t *Trigger) ResetsOnSuccess() bool {
	if t.ResetOnSuccess == nil {
		return true
	}

	return *t.ResetOnSuccess
}
