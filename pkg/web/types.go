// Package web provides HTTP request and response types for the release API.
package web

import (
	"encoding/json"
	"time"
)

// CreateReleaseRequest represents the request body for creating a new release.
type CreateReleaseRequest struct {
	Title       string          `json:"title"       validate:"required"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"     validate:"required"`
}

// ScheduleReleaseRequest carries the execution instant for a release, RFC 3339.
type ScheduleReleaseRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// CreateTemplateRequest represents the request body for creating a release template.
type CreateTemplateRequest struct {
	Name               string          `json:"name"                validate:"required,min=1"`
	Description        string          `json:"description"`
	DefaultTitle       string          `json:"default_title"       validate:"required,min=1"`
	DefaultDescription string          `json:"default_description"`
	DefaultPayload     json.RawMessage `json:"default_payload"`
	PayloadSchema      json.RawMessage `json:"payload_schema"`
}

// CreateFromTemplateRequest represents the optional overrides when
// instantiating a release from a template. Empty fields keep the template
// defaults.
type CreateFromTemplateRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
}
