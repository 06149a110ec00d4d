package web

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/kestrelflow/kestrel/pkg/events"
	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/queue"
	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/restart"
	"github.com/kestrelflow/kestrel/pkg/state"
)

// allStates is the default search filter when no states are given.
var allStates = []state.Type{
	state.Created, state.Queued, state.Restarted, state.Running,
	state.Paused, state.Retrying, state.Success, state.Warning,
	state.Failed, state.Killing, state.Killed, state.Cancelled,
}

type APIHandlers struct {
	logger     *slog.Logger
	flows      repository.FlowRepository
	executions repository.ExecutionRepository
	bus        queue.EventBus
	validate   *validator.Validate
}

func NewAPIHandlers(
	flows repository.FlowRepository,
	executions repository.ExecutionRepository,
	bus queue.EventBus,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		logger:     logger.With("module", "web"),
		flows:      flows,
		executions: executions,
		bus:        bus,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	flows := app.Group("/v1/flows")
	flows.Post("/", h.CreateFlow)
	flows.Get("/", h.ListFlows)
	flows.Get("/:namespace/:id", h.GetFlow)

	executions := app.Group("/v1/executions")
	executions.Post("/", h.CreateExecution)
	executions.Get("/", h.SearchExecutions)
	executions.Get("/:id", h.GetExecution)
	executions.Post("/:id/resume", h.ResumeExecution)
	executions.Post("/:id/kill", h.KillExecution)
	executions.Post("/:id/restart", h.RestartExecution)
	executions.Post("/:id/replay", h.ReplayExecution)
}

// CreateFlow stores the posted definition as the flow's next revision.
// The body is a YAML or JSON flow document.
func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	f, err := flow.Parse(c.Body())
	if err != nil {
		return respondError(c, err)
	}

	// The repository assigns the next revision number.
	f.Revision = 0

	if err := h.flows.Save(c.Context(), f); err != nil {
		return respondError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Flow saved",
		"namespace", f.Namespace, "flow_id", f.ID, "revision", f.Revision)

	return c.Status(fiber.StatusCreated).JSON(f)
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	flows, err := h.flows.List(c.Context(), c.Query("tenant_id"), c.Query("namespace"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows, "total_count": len(flows)})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	var revision *int

	if raw := c.Query("revision"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "revision must be an integer")
		}

		revision = &parsed
	}

	f, err := h.flows.FindByID(c.Context(), c.Query("tenant_id"), c.Params("namespace"), c.Params("id"), revision)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(f)
}

// CreateExecution creates a CREATED execution and hands it to the
// executor, which applies the schedule date and concurrency policy.
func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	var req CreateExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	f, err := h.flows.FindByID(c.Context(), req.TenantID, req.Namespace, req.FlowID, req.Revision)
	if err != nil {
		return respondError(c, err)
	}

	if f.Disabled {
		return conflict(c, "flow is disabled")
	}

	inputs, err := f.ResolveInputs(req.Inputs)
	if err != nil {
		return respondError(c, err)
	}

	ex := execution.New(f, inputs, req.Labels)
	ex.ScheduleDate = req.ScheduleDate

	if err := h.executions.Save(c.Context(), ex); err != nil {
		return respondError(c, err)
	}

	if err := h.publishUpdated(c, ex); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(ex)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	ex, err := h.executions.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(ex)
}

// SearchExecutions lists executions by namespace, flow and states. The
// states filter is a comma-separated list; empty means every state.
func (h *APIHandlers) SearchExecutions(c fiber.Ctx) error {
	namespace := c.Query("namespace")
	if namespace == "" {
		return badRequest(c, "namespace is required")
	}

	states := allStates

	if raw := c.Query("states"); raw != "" {
		var filtered []state.Type
		for _, s := range strings.Split(raw, ",") {
			filtered = append(filtered, state.Type(strings.TrimSpace(s)))
		}

		states = filtered
	}

	executions, err := h.executions.FindByStates(
		c.Context(), c.Query("tenant_id"), namespace, c.Query("flow_id"), states)
	if err != nil {
		return respondError(c, err)
	}

	if raw := c.Query("labels"); raw != "" {
		labels, err := parseLabelSelector(raw)
		if err != nil {
			return badRequest(c, err.Error())
		}

		var matched []*execution.Execution

		for _, ex := range executions {
			if hasLabels(ex.Labels, labels) {
				matched = append(matched, ex)
			}
		}

		executions = matched
	}

	return c.JSON(fiber.Map{"executions": executions, "total_count": len(executions)})
}

// parseLabelSelector parses a comma-separated key=value list.
func parseLabelSelector(raw string) (map[string]string, error) {
	labels := map[string]string{}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid label selector %q, expected key=value", pair)
		}

		labels[key] = value
	}

	return labels, nil
}

func hasLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}

	return true
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	var req ResumeExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	ex, err := h.executions.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	if ex.State.Current != state.Paused {
		return conflict(c, "execution is not paused")
	}

	err = h.bus.Publish(c.Context(), ex.ID, events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent),
		ExecutionID: ex.ID,
		TargetState: req.TargetState,
		OnResume:    req.OnResume,
		ResumedBy:   req.ResumedBy,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) KillExecution(c fiber.Ctx) error {
	var req KillExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	ex, err := h.executions.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	if ex.State.Current.IsTerminal() {
		return conflict(c, "execution already finished")
	}

	err = h.bus.Publish(c.Context(), ex.ID, events.ExecutionKilled{
		BaseEvent:         events.NewBaseEvent(events.ExecutionKilledEvent),
		ExecutionID:       ex.ID,
		CascadeToChildren: req.CascadeToChildren,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// RestartExecution revives a failed, killed or cancelled execution in
// place, keeping its successful task runs.
func (h *APIHandlers) RestartExecution(c fiber.Ctx) error {
	ex, err := h.executions.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	if err := restart.Restart(ex); err != nil {
		return respondError(c, err)
	}

	if err := h.executions.Save(c.Context(), ex); err != nil {
		return respondError(c, err)
	}

	if err := h.publishUpdated(c, ex); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ex)
}

// ReplayExecution clones a finished execution into a fresh one linked
// back to the original. An optional task_run_id query parameter roots the
// replay at that run: earlier runs are inherited, the chosen subtree is
// re-executed.
func (h *APIHandlers) ReplayExecution(c fiber.Ctx) error {
	ex, err := h.executions.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	clone, err := restart.Replay(ex, c.Query("task_run_id"))
	if err != nil {
		return respondError(c, err)
	}

	if err := h.executions.Save(c.Context(), clone); err != nil {
		return respondError(c, err)
	}

	if err := h.publishUpdated(c, clone); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(clone)
}

func (h *APIHandlers) publishUpdated(c fiber.Ctx, ex *execution.Execution) error {
	return h.bus.Publish(c.Context(), ex.ID, events.ExecutionUpdated{
		BaseEvent: events.NewBaseEvent(events.ExecutionUpdatedEvent),
		Execution: ex,
	})
}
