// Package file provides file-based persistence for releases, audit entries and templates.
package file

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dukex/timelock/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	releaseRepo  *ReleaseRepository
	auditRepo    *AuditRepository
	templateRepo *TemplateRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		releaseRepo:  NewReleaseRepository(cleanRoot),
		auditRepo:    NewAuditRepository(cleanRoot),
		templateRepo: NewTemplateRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) ReleaseRepository() persistence.ReleaseRepository {
	return fp.releaseRepo
}

func (fp *Persistence) AuditRepository() persistence.AuditRepository {
	return fp.auditRepo
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

// writeFileAtomic writes data to a temporary file in dir and renames it into
// place, so a concurrent reader sees either the previous record or the new
// one, never a partial write.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", name, err)
	}

	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmpPath, path.Join(dir, name))
	}

	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}
