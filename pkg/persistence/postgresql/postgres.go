// Package postgresql provides PostgreSQL persistence for releases, audit entries and templates.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/timelock/pkg/persistence"
	"github.com/dukex/timelock/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // postgres driver
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	releaseRepo  *ReleaseRepository
	auditRepo    *AuditRepository
	templateRepo *TemplateRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		releaseRepo:  NewReleaseRepository(database, logger),
		auditRepo:    NewAuditRepository(database),
		templateRepo: NewTemplateRepository(database),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) ReleaseRepository() persistence.ReleaseRepository {
	return p.releaseRepo
}

func (p *Persistence) AuditRepository() persistence.AuditRepository {
	return p.auditRepo
}

func (p *Persistence) TemplateRepository() persistence.TemplateRepository {
	return p.templateRepo
}
