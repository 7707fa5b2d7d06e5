package models

import (
	"encoding/json"
	"time"
)

// ReleaseTemplate holds pre-configured defaults for common release patterns.
// When PayloadSchema is set, payloads of releases created from the template
// must validate against it.
type ReleaseTemplate struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"          validate:"required,min=3"`
	Description        string          `json:"description,omitempty"`
	DefaultTitle       string          `json:"default_title" validate:"required"`
	DefaultDescription string          `json:"default_description,omitempty"`
	DefaultPayload     json.RawMessage `json:"default_payload,omitempty"`
	PayloadSchema      json.RawMessage `json:"payload_schema,omitempty"`
	CreatedBy          string          `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
	Active             bool            `json:"active"`
}
