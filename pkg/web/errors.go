package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/restart"
	"github.com/kestrelflow/kestrel/pkg/state"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// respondError maps domain errors onto RFC 7807 problem responses.
func respondError(c fiber.Ctx, err error) error {
	switch {
	case repository.IsNotFound(err), errors.Is(err, execution.ErrTaskRunNotFound):
		return notFound(c, err.Error())
	case errors.Is(err, flow.ErrInvalidFlow),
		errors.Is(err, flow.ErrInvalidTask),
		errors.Is(err, flow.ErrDuplicateTaskID),
		errors.Is(err, flow.ErrCyclicDag),
		errors.Is(err, flow.ErrUnknownDependency),
		errors.Is(err, flow.ErrMissingRequiredInput):
		return badRequest(c, err.Error())
	case errors.Is(err, restart.ErrNotRestartable),
		errors.Is(err, restart.ErrNotReplayable),
		errors.Is(err, state.ErrIllegalTransition):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}
