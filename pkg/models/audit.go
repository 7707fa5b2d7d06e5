package models

import "time"

// ReleaseAuditEntry records one lifecycle action applied to a release.
// Entries are append-only; nothing ever updates or deletes one.
type ReleaseAuditEntry struct {
	ID          string    `json:"id"`
	ReleaseID   string    `json:"release_id"`
	Action      string    `json:"action"` // create, schedule, approve, execute, cancel
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
	Details     string    `json:"details,omitempty"`
}
