// Package cmd provides shared construction helpers for the binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relayd/relay/pkg/persistence"
	"github.com/relayd/relay/pkg/persistence/file"
	"github.com/relayd/relay/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend by URL scheme: postgres URLs
// get the PostgreSQL implementation, everything else the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL persistence: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseScheme(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	return parts[0]
}
