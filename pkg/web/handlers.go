// Package web provides HTTP handlers and REST API endpoints for release management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// DefaultPageSize applies when a list request carries no size parameter.
const DefaultPageSize = 20

type APIHandlers struct {
	releaseService    *services.Release
	queryService      *services.Query
	statisticsService *services.Statistics
	templateService   *services.Template
	validator         *validator.Validate
}

func NewAPIHandlers(
	releaseService *services.Release,
	queryService *services.Query,
	statisticsService *services.Statistics,
	templateService *services.Template,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		releaseService:    releaseService,
		queryService:      queryService,
		statisticsService: statisticsService,
		templateService:   templateService,
		validator:         validator,
	}
}

func (h *APIHandlers) ListReleases(c fiber.Ctx) error {
	req, err := h.parseListReleasesRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	page, err := h.queryService.ListReleases(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(page)
}

// parseListReleasesRequest parses and validates query parameters for listing releases.
func (h *APIHandlers) parseListReleasesRequest(c fiber.Ctx) (*services.ListReleasesRequest, error) {
	req := &services.ListReleasesRequest{Size: DefaultPageSize}

	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, err
		}

		req.Page = page
	}

	if sizeStr := c.Query("size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, err
		}

		req.Size = size
	}

	req.Search = c.Query("search")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ReleaseStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetRelease(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Release ID is required")
	}

	release, err := h.releaseService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(release)
}

func (h *APIHandlers) GetStatistics(c fiber.Ctx) error {
	stats, err := h.statisticsService.Compute(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) CreateRelease(c fiber.Ctx) error {
	var req CreateReleaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.releaseService.Create(c.Context(), actorFromContext(c), services.CreateReleaseRequest{
		Title:       req.Title,
		Description: req.Description,
		Payload:     req.Payload,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ScheduleRelease(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Release ID is required")
	}

	var req ScheduleReleaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: scheduled_at must be RFC 3339")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	release, err := h.releaseService.Schedule(c.Context(), actorFromContext(c), id, req.ScheduledAt)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(release)
}

func (h *APIHandlers) ApproveRelease(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Release ID is required")
	}

	release, err := h.releaseService.Approve(c.Context(), actorFromContext(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(release)
}

func (h *APIHandlers) ExecuteRelease(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Release ID is required")
	}

	release, err := h.releaseService.Execute(c.Context(), actorFromContext(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(release)
}

func (h *APIHandlers) CancelRelease(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Release ID is required")
	}

	release, err := h.releaseService.Cancel(c.Context(), actorFromContext(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(release)
}

func (h *APIHandlers) GetReleaseHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Release ID is required")
	}

	page := 0
	size := DefaultPageSize

	if pageStr := c.Query("page"); pageStr != "" {
		parsed, err := strconv.Atoi(pageStr)
		if err != nil {
			return badRequest(c, "Invalid page parameter")
		}

		page = parsed
	}

	if sizeStr := c.Query("size"); sizeStr != "" {
		parsed, err := strconv.Atoi(sizeStr)
		if err != nil {
			return badRequest(c, "Invalid size parameter")
		}

		size = parsed
	}

	history, err := h.releaseService.History(c.Context(), id, page, size)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"entries":     history.Entries,
		"total_count": history.TotalCount,
		"page":        page,
		"size":        size,
	})
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	templates, err := h.templateService.ListActive(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(templates)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req CreateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.templateService.Create(c.Context(), actorFromContext(c), services.CreateTemplateRequest{
		Name:               req.Name,
		Description:        req.Description,
		DefaultTitle:       req.DefaultTitle,
		DefaultDescription: req.DefaultDescription,
		DefaultPayload:     req.DefaultPayload,
		PayloadSchema:      req.PayloadSchema,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) CreateReleaseFromTemplate(c fiber.Ctx) error {
	templateID := c.Params("id")
	if templateID == "" {
		return badRequest(c, "Template ID is required")
	}

	// Overrides are optional; an empty body keeps the template defaults.
	var req CreateFromTemplateRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	created, err := h.releaseService.CreateFromTemplate(
		c.Context(),
		actorFromContext(c),
		templateID,
		services.CreateReleaseRequest{
			Title:       req.Title,
			Description: req.Description,
			Payload:     req.Payload,
		},
	)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.releaseService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Timelock API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Timelock API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
