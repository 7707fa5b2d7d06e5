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

	"github.com/dukex/timelock/pkg/models"
	"github.com/dukex/timelock/pkg/persistence"
)

// AuditRepository handles audit-entry file operations. One file per entry,
// grouped per release directory.
type AuditRepository struct {
	root string
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(root string) *AuditRepository {
	return &AuditRepository{root: root}
}

// Append writes a new audit entry. Entries are never rewritten.
func (ar *AuditRepository) Append(_ context.Context, entry *models.ReleaseAuditEntry) error {
	dir := path.Join(ar.root, "audit", entry.ReleaseID)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry %s: %w", entry.ID, err)
	}

	return writeFileAtomic(dir, entry.ID+".json", data)
}

// ListByRelease returns one page of a release's audit entries, newest first.
func (ar *AuditRepository) ListByRelease(_ context.Context, releaseID string, page, size int) (*persistence.AuditListResult, error) {
	if size <= 0 {
		return nil, persistence.ErrInvalidPageSize
	}

	if page < 0 {
		page = 0
	}

	dir := os.DirFS(path.Join(ar.root, "audit", releaseID))

	jsonFiles, err := fs.Glob(dir, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list audit files: %w", err)
	}

	entries := make([]*models.ReleaseAuditEntry, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		filePath := filepath.Clean(path.Join(ar.root, "audit", releaseID, file))

		body, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit entry: %w", err)
		}

		var entry models.ReleaseAuditEntry

		err = json.Unmarshal(body, &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PerformedAt.Equal(entries[j].PerformedAt) {
			return entries[i].ID > entries[j].ID
		}

		return entries[i].PerformedAt.After(entries[j].PerformedAt)
	})

	totalCount := int64(len(entries))
	startIdx := page * size
	endIdx := startIdx + size

	if startIdx >= len(entries) {
		return &persistence.AuditListResult{
			Entries:    make([]*models.ReleaseAuditEntry, 0),
			TotalCount: totalCount,
		}, nil
	}

	if endIdx > len(entries) {
		endIdx = len(entries)
	}

	return &persistence.AuditListResult{
		Entries:    entries[startIdx:endIdx],
		TotalCount: totalCount,
	}, nil
}
