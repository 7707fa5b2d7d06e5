// Package models defines the core domain models for time-locked release management.
package models

import (
	"encoding/json"
	"time"
)

// ReleaseStatus represents the lifecycle state of a release.
type ReleaseStatus string

const (
	ReleaseStatusDraft     ReleaseStatus = "DRAFT"     // Created, not yet scheduled or approved
	ReleaseStatusScheduled ReleaseStatus = "SCHEDULED" // Has a future execution instant
	ReleaseStatusApproved  ReleaseStatus = "APPROVED"  // Signed off, executable once due
	ReleaseStatusExecuted  ReleaseStatus = "EXECUTED"  // Terminal, payload delivered
	ReleaseStatusCancelled ReleaseStatus = "CANCELLED" // Terminal, abandoned before execution
)

// AllReleaseStatuses lists every valid status, in lifecycle order.
var AllReleaseStatuses = []ReleaseStatus{
	ReleaseStatusDraft,
	ReleaseStatusScheduled,
	ReleaseStatusApproved,
	ReleaseStatusExecuted,
	ReleaseStatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s ReleaseStatus) Valid() bool {
	switch s {
	case ReleaseStatusDraft, ReleaseStatusScheduled, ReleaseStatusApproved,
		ReleaseStatusExecuted, ReleaseStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted from s.
func (s ReleaseStatus) Terminal() bool {
	return s == ReleaseStatusExecuted || s == ReleaseStatusCancelled
}

// Release is the unit of work carried through the lifecycle. Status and the
// timestamp fields are owned exclusively by the release service; title,
// description and payload are fixed at creation.
type Release struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"       validate:"required"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      ReleaseStatus   `json:"status"      validate:"required"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   string          `json:"created_by"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy  string          `json:"approved_by,omitempty"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
}

// Due reports whether the release's scheduled instant has been reached.
// A release with no scheduled instant is never due.
func (r *Release) Due(now time.Time) bool {
	return IsDue(r.ScheduledAt, now)
}

// IsDue reports whether scheduledAt is set and now is at or past it.
func IsDue(scheduledAt *time.Time, now time.Time) bool {
	if scheduledAt == nil {
		return false
	}

	return !now.Before(*scheduledAt)
}
