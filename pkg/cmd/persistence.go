// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mesworks/mescore/pkg/persistence"
	"github.com/mesworks/mescore/pkg/persistence/memory"
	"github.com/mesworks/mescore/pkg/persistence/postgresql"
)

// NewPersistence selects the store implementation by the URL scheme:
// postgres for production, the in-memory store for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgresql persistence: %w", err))
		}

		return p
	case "memory":
		logger.WarnContext(ctx, "Using in-memory persistence; data is lost on restart")

		return memory.NewPersistence()
	default:
		panic("Unsupported persistence provider in database URL: " + databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
