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
)

// TemplateRepository handles release-template file operations.
type TemplateRepository struct {
	root string
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

// Save writes the full template record to the file system.
func (tr *TemplateRepository) Save(_ context.Context, template *models.ReleaseTemplate) error {
	dir := path.Join(tr.root, "templates")

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}

	data, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal template %s: %w", template.ID, err)
	}

	return writeFileAtomic(dir, template.ID+".json", data)
}

// GetByID retrieves a template by its ID from the file system.
func (tr *TemplateRepository) GetByID(_ context.Context, templateID string) (*models.ReleaseTemplate, error) {
	filePath := filepath.Clean(path.Join(tr.root, "templates", templateID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch template %s: %w", templateID, err)
	}

	var template models.ReleaseTemplate

	err = json.Unmarshal(body, &template)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", templateID, err)
	}

	return &template, nil
}

// ListActive returns every active template, name ascending.
func (tr *TemplateRepository) ListActive(ctx context.Context) ([]*models.ReleaseTemplate, error) {
	root := os.DirFS(tr.root + "/templates")

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list template files: %w", err)
	}

	templates := make([]*models.ReleaseTemplate, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		templateID := file[:len(file)-5] // Remove .json extension

		template, err := tr.GetByID(ctx, templateID)
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
		}

		if template != nil && template.Active {
			templates = append(templates, template)
		}
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}
