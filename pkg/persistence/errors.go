// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrReleaseNotFound indicates a release was not found by the given identifier.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrTemplateNotFound indicates a release template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("release template not found")

	// ErrInvalidSortField indicates an unsupported sort field was requested.
	ErrInvalidSortField = errors.New("invalid sort field")

	// ErrInvalidPageSize indicates a non-positive page size was requested.
	ErrInvalidPageSize = errors.New("invalid page size")

	// ErrInvalidReleaseStatus indicates an invalid release status was provided.
	ErrInvalidReleaseStatus = errors.New("invalid release status")

	// ErrStaleRelease indicates a conditional update lost to a concurrent
	// writer: the stored status no longer matched the expected one.
	ErrStaleRelease = errors.New("release was modified concurrently")
)

// ReleaseError wraps release-related persistence errors with additional context.
type ReleaseError struct {
	Op        string // Operation being performed (e.g., "GetByID", "Save", "List")
	ReleaseID string // Release ID if applicable
	Err       error  // Underlying error
}

func (e *ReleaseError) Error() string {
	if e.ReleaseID != "" {
		return fmt.Sprintf("%s operation failed for release %s: %v", e.Op, e.ReleaseID, e.Err)
	}

	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for release errors.
func (e *ReleaseError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewReleaseError creates a new release error with context.
func NewReleaseError(op, releaseID string, err error) *ReleaseError {
	return &ReleaseError{
		Op:        op,
		ReleaseID: releaseID,
		Err:       err,
	}
}

// IsReleaseNotFound checks if an error indicates a release was not found.
func IsReleaseNotFound(err error) bool {
	return errors.Is(err, ErrReleaseNotFound)
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsStaleRelease checks if an error indicates a lost concurrent update.
func IsStaleRelease(err error) bool {
	return errors.Is(err, ErrStaleRelease)
}

// IsInvalidSortField checks if an error indicates an unsupported sort field.
func IsInvalidSortField(err error) bool {
	return errors.Is(err, ErrInvalidSortField)
}

// IsInvalidPageSize checks if an error indicates a bad page size.
func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}
