package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
)

// Query is the read path over the release collection: filtering, sorting and
// pagination. It never mutates anything.
type Query struct {
	persistence persistence.Persistence
}

// NewQuery creates a new query service.
func NewQuery(persistence persistence.Persistence) *Query {
	return &Query{persistence: persistence}
}

// ListReleasesRequest contains options for listing releases.
type ListReleasesRequest struct {
	// Free-text search over title and description.
	Search string
	// Optional exact-match status filter.
	Status *models.ReleaseStatus

	// Sorting: one of created_at, scheduled_at, title.
	SortBy    string
	SortOrder string

	// Zero-based page and positive page size.
	Page int
	Size int
}

// ReleasePage is one page of releases plus pagination metadata.
type ReleasePage struct {
	Content       []*models.Release `json:"content"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int64             `json:"total_elements"`
	TotalPages    int               `json:"total_pages"`
	HasNext       bool              `json:"has_next"`
	HasPrevious   bool              `json:"has_previous"`
}

// ListReleases retrieves releases with filtering, sorting, and pagination.
func (q *Query) ListReleases(ctx context.Context, req ListReleasesRequest) (*ReleasePage, error) {
	err := q.validateListReleasesRequest(&req)
	if err != nil {
		return nil, err
	}

	result, err := q.persistence.ReleaseRepository().List(ctx, persistence.ListReleasesOptions{
		Search:    req.Search,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
		Page:      req.Page,
		Size:      req.Size,
	})
	if err != nil {
		if persistence.IsInvalidSortField(err) || persistence.IsInvalidPageSize(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}

		return nil, fmt.Errorf("failed to list releases: %w", err)
	}

	totalPages := int((result.TotalCount + int64(req.Size) - 1) / int64(req.Size))

	return &ReleasePage{
		Content:       result.Releases,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: result.TotalCount,
		TotalPages:    totalPages,
		HasNext:       req.Page+1 < totalPages,
		HasPrevious:   req.Page > 0,
	}, nil
}

// validateListReleasesRequest validates and sets defaults for the request.
func (q *Query) validateListReleasesRequest(req *ListReleasesRequest) error {
	if req.Size <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrInvalidQuery)
	}

	if req.Page < 0 {
		return fmt.Errorf("%w: page must not be negative", ErrInvalidQuery)
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "scheduled_at", "title"}
	if !slices.Contains(allowedSorts, req.SortBy) {
		return fmt.Errorf("%w: invalid sort field %q, allowed: %s",
			ErrInvalidQuery, req.SortBy, strings.Join(allowedSorts, ", "))
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return fmt.Errorf("%w: invalid sort order %q, allowed: asc, desc", ErrInvalidQuery, req.SortOrder)
	}

	if req.Status != nil && !req.Status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, *req.Status)
	}

	req.Search = strings.TrimSpace(req.Search)

	return nil
}
