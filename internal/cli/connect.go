package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/aqasim81/joke-server/internal/config"
	"github.com/aqasim81/joke-server/internal/database"
)

// connect opens the pool for one-shot commands. Unlike serve, they cannot
// do anything useful against an unreachable store, so a failed liveness
// check is returned as an error in every profile.
func connect(ctx context.Context, cfg *config.Config, out io.Writer) (*database.Pool, error) {
	fmt.Fprintf(out, "Connecting to %s\n", config.RedactURL(cfg.ConnString()))

	pool, err := database.Open(ctx, database.SettingsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.LivenessErr(); err != nil {
		pool.Teardown()

		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return pool, nil
}
