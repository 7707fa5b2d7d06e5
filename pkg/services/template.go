package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/timelock/pkg/authz"
	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/xeipuuv/gojsonschema"
)

// Template manages release templates. Only admins may create them; any caller
// may list the active ones.
type Template struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
}

// NewTemplate creates a new template service. A nil clock falls back to the
// real clock.
func NewTemplate(persistence persistence.Persistence, clock clockwork.Clock) *Template {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Template{persistence: persistence, clock: clock}
}

// CreateTemplateRequest contains the fields of a new release template.
type CreateTemplateRequest struct {
	Name               string
	Description        string
	DefaultTitle       string
	DefaultDescription string
	DefaultPayload     json.RawMessage
	PayloadSchema      json.RawMessage
}

// Create adds a new active template.
func (t *Template) Create(ctx context.Context, actor authz.Actor, req CreateTemplateRequest) (*models.ReleaseTemplate, error) {
	if actor.Role != authz.RoleAdmin {
		return nil, ErrForbidden
	}

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.DefaultTitle) == "" {
		return nil, ErrTitleRequired
	}

	if len(req.DefaultPayload) > 0 && !json.Valid(req.DefaultPayload) {
		return nil, ErrMalformedPayload
	}

	if len(req.PayloadSchema) > 0 {
		_, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(req.PayloadSchema))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate template ID: %w", err)
	}

	template := &models.ReleaseTemplate{
		ID:                 id.String(),
		Name:               strings.TrimSpace(req.Name),
		Description:        req.Description,
		DefaultTitle:       strings.TrimSpace(req.DefaultTitle),
		DefaultDescription: req.DefaultDescription,
		DefaultPayload:     req.DefaultPayload,
		PayloadSchema:      req.PayloadSchema,
		CreatedBy:          actor.ID,
		CreatedAt:          t.clock.Now().UTC(),
		Active:             true,
	}

	err = t.persistence.TemplateRepository().Save(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	return template, nil
}

// ListActive returns every active template.
func (t *Template) ListActive(ctx context.Context) ([]*models.ReleaseTemplate, error) {
	return t.persistence.TemplateRepository().ListActive(ctx)
}
