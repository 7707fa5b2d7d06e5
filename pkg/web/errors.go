package web

import (
	"errors"

	"github.com/dukex/timelock/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
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

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service layer errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsForbidden(err):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("forbidden").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case errors.Is(err, services.ErrReleaseNotFound):
		return notFound(c, "release not found")

	case errors.Is(err, services.ErrTemplateNotFound):
		return notFound(c, "release template not found")

	case services.IsNotDue(err):
		// Distinct from invalid_transition so callers can retry later.
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("not_due").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsInvalidTransition(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("invalid_transition").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
