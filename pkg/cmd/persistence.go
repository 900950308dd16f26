// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/waflow/waflow/pkg/persistence"
	"github.com/waflow/waflow/pkg/persistence/file"
	"github.com/waflow/waflow/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence backend for a database URL.
// postgres:// and postgresql:// select PostgreSQL; anything else is treated
// as a filesystem root for the file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return store
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}
