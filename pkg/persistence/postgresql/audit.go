package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
)

// AuditRepository handles audit-entry database operations.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a new audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *models.ReleaseAuditEntry) error {
	query := `
		INSERT INTO release_audit_log (id, release_id, action, performed_by, performed_at, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ReleaseID,
		entry.Action,
		entry.PerformedBy,
		entry.PerformedAt,
		nullString(entry.Details),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry for release %s: %w", entry.ReleaseID, err)
	}

	return nil
}

// ListByRelease returns one page of a release's audit entries, newest first.
func (r *AuditRepository) ListByRelease(ctx context.Context, releaseID string, page, size int) (*persistence.AuditListResult, error) {
	if size <= 0 {
		return nil, persistence.ErrInvalidPageSize
	}

	if page < 0 {
		page = 0
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM release_audit_log WHERE release_id = $1", releaseID,
	).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT id, release_id, action, performed_by, performed_at, details
		FROM release_audit_log
		WHERE release_id = $1
		ORDER BY performed_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, releaseID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	entries := make([]*models.ReleaseAuditEntry, 0)

	for rows.Next() {
		var (
			entry   models.ReleaseAuditEntry
			details sql.NullString
		)

		err = rows.Scan(&entry.ID, &entry.ReleaseID, &entry.Action, &entry.PerformedBy, &entry.PerformedAt, &details)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Details = details.String
		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return &persistence.AuditListResult{
		Entries:    entries,
		TotalCount: totalCount,
	}, nil
}
