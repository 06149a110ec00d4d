// Package web exposes the REST API over flows and executions.
package web

import (
	"time"

	"github.com/kestrelflow/kestrel/pkg/state"
)

// CreateExecutionRequest creates one execution of a flow. A nil revision
// selects the latest revision; ScheduleDate defers the start.
type CreateExecutionRequest struct {
	TenantID     string            `json:"tenant_id"`
	Namespace    string            `json:"namespace" validate:"required"`
	FlowID       string            `json:"flow_id"   validate:"required"`
	Revision     *int              `json:"revision,omitempty"`
	Inputs       map[string]any    `json:"inputs,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	ScheduleDate *time.Time        `json:"schedule_date,omitempty"`
}

// ResumeExecutionRequest resumes a paused execution. An empty target
// state resumes to RUNNING.
type ResumeExecutionRequest struct {
	TargetState state.Type     `json:"target_state,omitempty"`
	OnResume    map[string]any `json:"on_resume,omitempty"`
	ResumedBy   string         `json:"resumed_by,omitempty"`
}

// KillExecutionRequest requests cooperative termination.
type KillExecutionRequest struct {
	CascadeToChildren bool `json:"cascade_to_children"`
}
