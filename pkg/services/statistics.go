package services

import (
	"context"
	"fmt"

	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
)

// Statistics derives per-status counts over the full release collection.
// Counts are computed from the live collection on every call; nothing is cached.
type Statistics struct {
	persistence persistence.Persistence
}

// NewStatistics creates a new statistics service.
func NewStatistics(persistence persistence.Persistence) *Statistics {
	return &Statistics{persistence: persistence}
}

// ReleaseStatistics summarizes the release collection by status.
type ReleaseStatistics struct {
	TotalReleases     int64                          `json:"total_releases"`
	ReleasesByStatus  map[models.ReleaseStatus]int64 `json:"releases_by_status"`
	ScheduledReleases int64                          `json:"scheduled_releases"`
	ApprovedReleases  int64                          `json:"approved_releases"`
	ExecutedReleases  int64                          `json:"executed_releases"`
	CancelledReleases int64                          `json:"cancelled_releases"`
}

// Compute counts all releases grouped by status. Every known status appears in
// the mapping, absent ones with a zero count.
func (s *Statistics) Compute(ctx context.Context) (*ReleaseStatistics, error) {
	counts, err := s.persistence.ReleaseRepository().CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count releases by status: %w", err)
	}

	byStatus := make(map[models.ReleaseStatus]int64, len(models.AllReleaseStatuses))

	var total int64

	for _, status := range models.AllReleaseStatuses {
		byStatus[status] = counts[status]
		total += counts[status]
	}

	return &ReleaseStatistics{
		TotalReleases:     total,
		ReleasesByStatus:  byStatus,
		ScheduledReleases: byStatus[models.ReleaseStatusScheduled],
		ApprovedReleases:  byStatus[models.ReleaseStatusApproved],
		ExecutedReleases:  byStatus[models.ReleaseStatusExecuted],
		CancelledReleases: byStatus[models.ReleaseStatusCancelled],
	}, nil
}
