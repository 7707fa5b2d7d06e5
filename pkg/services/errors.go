// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/timelock/pkg/authz"
	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// ErrForbidden indicates the caller's role does not permit the action (403 Forbidden).
	ErrForbidden = errors.New("role does not permit this action")

	// ErrInvalidTransition indicates the action is not legal from the release's
	// current status (409 Conflict). Use InvalidTransitionError for context.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotDue indicates execute was attempted before the scheduled instant
	// (409 Conflict, distinct from ErrInvalidTransition so callers can wait).
	ErrNotDue = errors.New("release is not due for execution")

	// Validation errors (400 Bad Request).
	ErrTitleRequired          = errors.New("title is required")
	ErrMalformedPayload       = errors.New("payload must be a valid JSON document")
	ErrScheduleNotFuture      = errors.New("scheduled instant must be in the future")
	ErrInvalidQuery           = errors.New("invalid query")
	ErrInvalidStatus          = errors.New("invalid release status")
	ErrTemplateInactive       = errors.New("release template is not active")
	ErrPayloadSchemaViolation = errors.New("payload does not match template schema")

	// Not-found errors (404).
	ErrReleaseNotFound  = persistence.ErrReleaseNotFound
	ErrTemplateNotFound = persistence.ErrTemplateNotFound
)

// InvalidTransitionError reports the attempted action and the status that made
// it illegal.
type InvalidTransitionError struct {
	Action authz.Action
	Status models.ReleaseStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a release in status %s", e.Action, e.Status)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewInvalidTransitionError creates an invalid transition error for the
// attempted action against the release's current status.
func NewInvalidTransitionError(action authz.Action, status models.ReleaseStatus) *InvalidTransitionError {
	return &InvalidTransitionError{Action: action, Status: status}
}

// IsForbidden checks if an error indicates a role permission denial.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInvalidTransition checks if an error indicates an illegal lifecycle transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsNotDue checks if an error indicates a premature execute attempt.
func IsNotDue(err error) bool {
	return errors.Is(err, ErrNotDue)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTitleRequired) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrScheduleNotFuture) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrTemplateInactive) ||
		errors.Is(err, ErrPayloadSchemaViolation) ||
		errors.Is(err, persistence.ErrInvalidSortField) ||
		errors.Is(err, persistence.ErrInvalidPageSize) ||
		errors.Is(err, persistence.ErrInvalidReleaseStatus)
}

// IsNotFound checks if an error indicates a missing release or template.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReleaseNotFound) || errors.Is(err, ErrTemplateNotFound)
}
