package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
)

// ReleaseRepository handles release-related file operations.
type ReleaseRepository struct {
	root string
}

// NewReleaseRepository creates a new release repository.
func NewReleaseRepository(root string) *ReleaseRepository {
	return &ReleaseRepository{root: root}
}

// Save writes the full release record to the file system.
func (rr *ReleaseRepository) Save(_ context.Context, release *models.Release) error {
	dir := path.Join(rr.root, "releases")

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create releases directory: %w", err)
	}

	data, err := json.MarshalIndent(release, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal release %s: %w", release.ID, err)
	}

	return writeFileAtomic(dir, release.ID+".json", data)
}

// Update rewrites the record only while its stored status still equals
// expected. The compare and the rename happen under an exclusive per-release
// lock file, so writers in other processes sharing the store cannot
// interleave between the read and the write.
func (rr *ReleaseRepository) Update(ctx context.Context, release *models.Release, expected models.ReleaseStatus) error {
	unlock, err := rr.lockRelease(release.ID)
	if err != nil {
		return persistence.NewReleaseError("Update", release.ID, err)
	}
	defer unlock()

	current, err := rr.GetByID(ctx, release.ID)
	if err != nil {
		return persistence.NewReleaseError("Update", release.ID, err)
	}

	if current == nil {
		return persistence.NewReleaseError("Update", release.ID, persistence.ErrReleaseNotFound)
	}

	if current.Status != expected {
		return persistence.NewReleaseError("Update", release.ID, persistence.ErrStaleRelease)
	}

	return rr.Save(ctx, release)
}

const (
	lockRetryInterval = 2 * time.Millisecond
	lockTimeout       = 5 * time.Second
)

// lockRelease takes an exclusive lock on one release by creating its lock
// file with O_EXCL, retrying until lockTimeout. The returned func releases it.
func (rr *ReleaseRepository) lockRelease(releaseID string) (func(), error) {
	dir := path.Join(rr.root, "releases")

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create releases directory: %w", err)
	}

	lockPath := path.Join(dir, releaseID+".lock")
	deadline := time.Now().Add(lockTimeout)

	for {
		file, err := os.OpenFile(filepath.Clean(lockPath), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_ = file.Close()

			return func() { _ = os.Remove(lockPath) }, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to lock release %s: %w", releaseID, err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock on release %s", releaseID)
		}

		time.Sleep(lockRetryInterval)
	}
}

// GetByID retrieves a release by its ID from the file system.
func (rr *ReleaseRepository) GetByID(_ context.Context, releaseID string) (*models.Release, error) {
	filePath := filepath.Clean(path.Join(rr.root, "releases", releaseID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch release %s: %w", releaseID, err)
	}

	var release models.Release

	err = json.Unmarshal(body, &release)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal release %s: %w", releaseID, err)
	}

	return &release, nil
}

// List returns one page of filtered, sorted releases with in-memory operations.
func (rr *ReleaseRepository) List(ctx context.Context, opts persistence.ListReleasesOptions) (*persistence.ReleaseListResult, error) {
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

	allowedSorts := map[string]bool{
		"created_at":   true,
		"scheduled_at": true,
		"title":        true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	if opts.Status != nil && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidReleaseStatus, *opts.Status)
	}

	allReleases, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Release, 0, len(allReleases))

	search := strings.ToLower(strings.TrimSpace(opts.Search))

	for _, release := range allReleases {
		if opts.Status != nil && release.Status != *opts.Status {
			continue
		}

		if search != "" &&
			!strings.Contains(strings.ToLower(release.Title), search) &&
			!strings.Contains(strings.ToLower(release.Description), search) {
			continue
		}

		filtered = append(filtered, release)
	}

	sortReleases(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))
	startIdx := opts.Page * opts.Size
	endIdx := startIdx + opts.Size

	if startIdx >= len(filtered) {
		return &persistence.ReleaseListResult{
			Releases:   make([]*models.Release, 0),
			TotalCount: totalCount,
		}, nil
	}

	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}

	return &persistence.ReleaseListResult{
		Releases:   filtered[startIdx:endIdx],
		TotalCount: totalCount,
	}, nil
}

// CountByStatus counts all releases grouped by status.
func (rr *ReleaseRepository) CountByStatus(ctx context.Context) (map[models.ReleaseStatus]int64, error) {
	allReleases, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ReleaseStatus]int64)
	for _, release := range allReleases {
		counts[release.Status]++
	}

	return counts, nil
}

// ListDue returns approved releases due at or before the given instant, oldest first.
func (rr *ReleaseRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*models.Release, error) {
	allReleases, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Release, 0)

	for _, release := range allReleases {
		if release.Status != models.ReleaseStatusApproved {
			continue
		}

		if release.ScheduledAt == nil || release.ScheduledAt.After(before) {
			continue
		}

		due = append(due, release)
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}

		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (rr *ReleaseRepository) loadAll(ctx context.Context) ([]*models.Release, error) {
	root := os.DirFS(rr.root + "/releases")

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list release files: %w", err)
	}

	releases := make([]*models.Release, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		releaseID := file[:len(file)-5] // Remove .json extension

		release, err := rr.GetByID(ctx, releaseID)
		if err != nil {
			return nil, fmt.Errorf("failed to load release %s: %w", releaseID, err)
		}

		if release != nil {
			releases = append(releases, release)
		}
	}

	return releases, nil
}

// sortReleases sorts releases in-place, breaking ties by ID ascending so the
// order is deterministic regardless of direction.
func sortReleases(releases []*models.Release, sortBy, sortOrder string) {
	sort.Slice(releases, func(i, j int) bool {
		a, b := releases[i], releases[j]

		// Unset instants sort last in both directions, matching the SQL
		// backend's NULLS LAST ordering.
		if sortBy == "scheduled_at" {
			switch {
			case a.ScheduledAt == nil && b.ScheduledAt != nil:
				return false
			case a.ScheduledAt != nil && b.ScheduledAt == nil:
				return true
			}
		}

		c := compareReleases(a, b, sortBy)
		if c == 0 {
			return a.ID < b.ID
		}

		if sortOrder == "desc" {
			return c > 0
		}

		return c < 0
	})
}

func compareReleases(a, b *models.Release, sortBy string) int {
	switch sortBy {
	case "scheduled_at":
		return compareInstants(a.ScheduledAt, b.ScheduledAt)
	case "title":
		return strings.Compare(a.Title, b.Title)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// compareInstants orders unset instants after every set one.
func compareInstants(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}
