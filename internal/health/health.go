// Package health checks that the store is reachable.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/aqasim81/joke-server/internal/database"
)

// Pinger is satisfied by *database.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
	Degraded() bool
}

// Probe performs liveness checks against the store.
type Probe struct {
	db Pinger
}

// NewProbe creates a Probe.
func NewProbe(db Pinger) *Probe {
	return &Probe{db: db}
}

// Check runs a trivial round trip. Failures match database.ErrUnreachable.
func (p *Probe) Check(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Startup reports the result of the liveness check made when the pool was
// opened. The failure is returned only when strict is set; otherwise it is
// logged and the process carries on degraded.
func Startup(logger *slog.Logger, pool *database.Pool, strict bool) error {
	err := pool.LivenessErr()
	if err == nil {
		logger.Info("database connection verified")
		return nil
	}

	if strict {
		logger.Error("database connection failed", "error", err)
		return err
	}

	logger.Warn("database connection failed, continuing degraded", "error", err)

	return nil
}

// Watch re-checks the store every interval until ctx ends, logging each
// change between healthy and unreachable. The starting state is the
// store's degraded flag, so a process that started degraded logs the
// recovery. It always returns nil so it can run in an errgroup next to
// the server.
func (p *Probe) Watch(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := !p.db.Degraded()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := p.Check(ctx)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case err != nil && healthy:
			logger.Warn("database became unreachable", "error", err)
		case err == nil && !healthy:
			logger.Info("database reachable again")
		}

		healthy = err == nil
	}
}
