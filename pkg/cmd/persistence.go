// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/timelock/pkg/persistence"
	"github.com/dukex/timelock/pkg/persistence/file"
	"github.com/dukex/timelock/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL scheme.
// postgres:// and postgresql:// URLs get the PostgreSQL backend; anything else
// is treated as a file system path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
