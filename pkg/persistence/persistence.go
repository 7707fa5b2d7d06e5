// Package persistence provides the data storage abstraction layer for releases,
// audit entries and release templates.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/timelock/pkg/models"
)

// ListReleasesOptions controls filtering, sorting and pagination of a release
// listing. Page is zero based. Size must be positive.
type ListReleasesOptions struct {
	// Free-text search over title and description, case insensitive.
	Search string
	// Optional exact-match status filter.
	Status *models.ReleaseStatus

	// One of: created_at, scheduled_at, title.
	SortBy string
	// One of: asc, desc.
	SortOrder string

	Page int
	Size int
}

// ReleaseListResult is one page of matching releases plus the total match count.
type ReleaseListResult struct {
	Releases   []*models.Release
	TotalCount int64
}

// AuditListResult is one page of audit entries plus the total entry count.
type AuditListResult struct {
	Entries    []*models.ReleaseAuditEntry
	TotalCount int64
}

// ReleaseRepository stores releases. Save is a full-record upsert; partial
// writes are never observable. Update is the only write path lifecycle
// transitions may use: it provides per-id mutual exclusion across processes
// sharing a store.
type ReleaseRepository interface {
	Save(ctx context.Context, release *models.Release) error
	// Update rewrites the record only while its stored status still equals
	// expected, returning ErrStaleRelease when a concurrent writer got there
	// first and ErrReleaseNotFound when the record is gone.
	Update(ctx context.Context, release *models.Release, expected models.ReleaseStatus) error
	// GetByID returns nil, nil when no release has the given ID.
	GetByID(ctx context.Context, id string) (*models.Release, error)
	List(ctx context.Context, opts ListReleasesOptions) (*ReleaseListResult, error)
	CountByStatus(ctx context.Context) (map[models.ReleaseStatus]int64, error)
	// ListDue returns approved releases whose scheduled instant is at or before
	// the given time, oldest first, capped at limit.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*models.Release, error)
}

// AuditRepository stores the append-only action trail of releases.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.ReleaseAuditEntry) error
	// ListByRelease returns entries for a release, newest first.
	ListByRelease(ctx context.Context, releaseID string, page, size int) (*AuditListResult, error)
}

// TemplateRepository stores release templates.
type TemplateRepository interface {
	Save(ctx context.Context, template *models.ReleaseTemplate) error
	// GetByID returns nil, nil when no template has the given ID.
	GetByID(ctx context.Context, id string) (*models.ReleaseTemplate, error)
	ListActive(ctx context.Context) ([]*models.ReleaseTemplate, error)
}

type Persistence interface {
	ReleaseRepository() ReleaseRepository
	AuditRepository() AuditRepository
	TemplateRepository() TemplateRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
