package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
	"github.com/google/uuid"
)

// ReleaseRepository handles release-related database operations.
type ReleaseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewReleaseRepository creates a new release repository.
func NewReleaseRepository(db *sql.DB, logger *slog.Logger) *ReleaseRepository {
	return &ReleaseRepository{db: db, logger: logger}
}

const releaseColumns = `
	id
  , title
  , description
  , payload
  , status
  , scheduled_at
  , created_at
  , created_by
  , approved_at
  , approved_by
  , executed_at
`

// Save upserts the full release record.
func (r *ReleaseRepository) Save(ctx context.Context, release *models.Release) error {
	query := `
		INSERT INTO releases (id, title, description, payload, status,
scheduled_at, created_at, created_by, approved_at, approved_by, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			scheduled_at = EXCLUDED.scheduled_at,
			approved_at = EXCLUDED.approved_at,
			approved_by = EXCLUDED.approved_by,
			executed_at = EXCLUDED.executed_at
	`

	_, err := r.db.ExecContext(ctx, query,
		release.ID,
		release.Title,
		nullString(release.Description),
		[]byte(release.Payload),
		release.Status,
		release.ScheduledAt,
		release.CreatedAt,
		release.CreatedBy,
		release.ApprovedAt,
		nullString(release.ApprovedBy),
		release.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save release %s: %w", release.ID, err)
	}

	return nil
}

// Update rewrites the record only while its stored status still equals
// expected. The conditional UPDATE makes concurrent transitions on one
// release mutually exclusive across every process sharing the database.
func (r *ReleaseRepository) Update(ctx context.Context, release *models.Release, expected models.ReleaseStatus) error {
	query := `
		UPDATE releases SET
			status = $2,
			scheduled_at = $3,
			approved_at = $4,
			approved_by = $5,
			executed_at = $6
		WHERE id = $1 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		release.ID,
		release.Status,
		release.ScheduledAt,
		release.ApprovedAt,
		nullString(release.ApprovedBy),
		release.ExecutedAt,
		expected,
	)
	if err != nil {
		return persistence.NewReleaseError("Update", release.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewReleaseError("Update", release.ID, err)
	}

	if affected == 1 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM releases WHERE id = $1)", release.ID,
	).Scan(&exists)
	if err != nil {
		return persistence.NewReleaseError("Update", release.ID, err)
	}

	if !exists {
		return persistence.NewReleaseError("Update", release.ID, persistence.ErrReleaseNotFound)
	}

	return persistence.NewReleaseError("Update", release.ID, persistence.ErrStaleRelease)
}

// GetByID returns a release by its ID, or nil when absent. An id that is not
// a UUID cannot match the UUID-typed key, so it reports absent instead of a
// cast error.
func (r *ReleaseRepository) GetByID(ctx context.Context, id string) (*models.Release, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}

	query := `SELECT ` + releaseColumns + ` FROM releases WHERE id = $1`

	release, err := scanRelease(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan release: %w", err)
	}

	return release, nil
}

// List returns one page of filtered, sorted releases.
func (r *ReleaseRepository) List(ctx context.Context, opts persistence.ListReleasesOptions) (*persistence.ReleaseListResult, error) {
	if opts.Size <= 0 {
		return nil, persistence.ErrInvalidPageSize
	}

	if opts.Page < 0 {
		opts.Page = 0
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	// Sort inputs are interpolated into SQL; allowlist them.
	sortColumns := map[string]string{
		"created_at":   "created_at",
		"scheduled_at": "scheduled_at",
		"title":        "title",
	}

	sortColumn, ok := sortColumns[opts.SortBy]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	if opts.Status != nil && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidReleaseStatus, *opts.Status)
	}

	direction := "ASC"
	if opts.SortOrder == "desc" {
		direction = "DESC"
	}

	where := " WHERE 1=1"
	args := make([]any, 0, 4)

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		where += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM releases"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count releases: %w", err)
	}

	args = append(args, opts.Size, opts.Page*opts.Size)
	query := fmt.Sprintf(
		"SELECT %s FROM releases%s ORDER BY %s %s NULLS LAST, id ASC LIMIT $%d OFFSET $%d",
		releaseColumns, where, sortColumn, direction, len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	releases := make([]*models.Release, 0)

	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}

		releases = append(releases, release)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating releases: %w", err)
	}

	return &persistence.ReleaseListResult{
		Releases:   releases,
		TotalCount: totalCount,
	}, nil
}

// CountByStatus counts all releases grouped by status.
func (r *ReleaseRepository) CountByStatus(ctx context.Context) (map[models.ReleaseStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM releases GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count releases by status: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	counts := make(map[models.ReleaseStatus]int64)

	for rows.Next() {
		var (
			status models.ReleaseStatus
			count  int64
		)

		err = rows.Scan(&status, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}

		counts[status] = count
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// ListDue returns approved releases due at or before the given instant, oldest first.
func (r *ReleaseRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*models.Release, error) {
	query := `SELECT ` + releaseColumns + `
		FROM releases
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.ReleaseStatusApproved, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due releases: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	releases := make([]*models.Release, 0)

	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due release: %w", err)
		}

		releases = append(releases, release)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating due releases: %w", err)
	}

	return releases, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row rowScanner) (*models.Release, error) {
	var (
		release     models.Release
		description sql.NullString
		payload     []byte
		scheduledAt sql.NullTime
		approvedAt  sql.NullTime
		approvedBy  sql.NullString
		executedAt  sql.NullTime
	)

	err := row.Scan(
		&release.ID,
		&release.Title,
		&description,
		&payload,
		&release.Status,
		&scheduledAt,
		&release.CreatedAt,
		&release.CreatedBy,
		&approvedAt,
		&approvedBy,
		&executedAt,
	)
	if err != nil {
		return nil, err
	}

	release.Description = description.String
	release.Payload = payload
	release.ApprovedBy = approvedBy.String

	if scheduledAt.Valid {
		t := scheduledAt.Time
		release.ScheduledAt = &t
	}

	if approvedAt.Valid {
		t := approvedAt.Time
		release.ApprovedAt = &t
	}

	if executedAt.Valid {
		t := executedAt.Time
		release.ExecutedAt = &t
	}

	return &release, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
