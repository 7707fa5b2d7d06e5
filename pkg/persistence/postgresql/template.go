package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/timelock/pkg/models"
	"github.com/google/uuid"
)

// TemplateRepository handles release-template database operations.
type TemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Save upserts the full template record.
func (r *TemplateRepository) Save(ctx context.Context, template *models.ReleaseTemplate) error {
	query := `
		INSERT INTO release_templates (id, name, description, default_title,
default_description, default_payload, payload_schema, created_by, created_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			default_title = EXCLUDED.default_title,
			default_description = EXCLUDED.default_description,
			default_payload = EXCLUDED.default_payload,
			payload_schema = EXCLUDED.payload_schema,
			active = EXCLUDED.active
	`

	_, err := r.db.ExecContext(ctx, query,
		template.ID,
		template.Name,
		nullString(template.Description),
		template.DefaultTitle,
		nullString(template.DefaultDescription),
		[]byte(template.DefaultPayload),
		[]byte(template.PayloadSchema),
		template.CreatedBy,
		template.CreatedAt,
		template.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.ID, err)
	}

	return nil
}

// GetByID returns a template by its ID, or nil when absent. A non-UUID id
// reports absent instead of a cast error, matching the UUID-typed key.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.ReleaseTemplate, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}

	query := `
		SELECT id, name, description, default_title, default_description,
default_payload, payload_schema, created_by, created_at, active
		FROM release_templates
		WHERE id = $1
	`

	template, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

// ListActive returns every active template, name ascending.
func (r *TemplateRepository) ListActive(ctx context.Context) ([]*models.ReleaseTemplate, error) {
	query := `
		SELECT id, name, description, default_title, default_description,
default_payload, payload_schema, created_by, created_at, active
		FROM release_templates
		WHERE active
		ORDER BY name ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	templates := make([]*models.ReleaseTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func scanTemplate(row rowScanner) (*models.ReleaseTemplate, error) {
	var (
		template       models.ReleaseTemplate
		description    sql.NullString
		defaultDesc    sql.NullString
		defaultPayload []byte
		payloadSchema  []byte
	)

	err := row.Scan(
		&template.ID,
		&template.Name,
		&description,
		&template.DefaultTitle,
		&defaultDesc,
		&defaultPayload,
		&payloadSchema,
		&template.CreatedBy,
		&template.CreatedAt,
		&template.Active,
	)
	if err != nil {
		return nil, err
	}

	template.Description = description.String
	template.DefaultDescription = defaultDesc.String
	template.DefaultPayload = defaultPayload
	template.PayloadSchema = payloadSchema

	return &template, nil
}
