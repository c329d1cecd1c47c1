package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/joke-server/internal/config"
)

// Workload selects which acquire timeout applies to a caller.
type Workload int

const (
	// Interactive is request-path work: joke fetches and health checks.
	Interactive Workload = iota
	// Batch is migration and seeding work, which tolerates longer waits.
	Batch
)

func (w Workload) String() string {
	if w == Batch {
		return "batch"
	}

	return "interactive"
}

const defaultHealthCheckPeriod = time.Minute

// Settings configures a Pool.
type Settings struct {
	ConnString          string
	MinConns            int32
	MaxConns            int32
	AcquireTimeout      time.Duration
	BatchAcquireTimeout time.Duration
	IdleTimeout         time.Duration
	HealthCheckPeriod   time.Duration
}

// SettingsFromConfig maps the application configuration onto pool settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ConnString:          cfg.ConnString(),
		MinConns:            int32(cfg.Database.PoolMin), //nolint:gosec // bounds checked by config.Validate
		MaxConns:            int32(cfg.Database.PoolMax), //nolint:gosec // bounds checked by config.Validate
		AcquireTimeout:      cfg.Database.AcquireTimeout,
		BatchAcquireTimeout: cfg.Database.BatchAcquireTimeout,
		IdleTimeout:         cfg.Database.IdleTimeout,
	}
}

// State is a point-in-time view of the pool.
type State struct {
	MinSize  int32
	MaxSize  int32
	Active   int32 // connections checked out
	Idle     int32
	Total    int32 // includes connections still being established
	Degraded bool
	Closed   bool

	AcquireCount         int64
	CanceledAcquireCount int64
	EmptyAcquireCount    int64 // acquisitions that had to wait for a connection
}

// Pool owns the bounded set of connections to the store. It is created
// once per process and torn down once at shutdown; every component that
// touches the store receives it explicitly.
type Pool struct {
	pool     *pgxpool.Pool
	settings Settings

	closed    atomic.Bool
	degraded  atomic.Bool
	closeOnce sync.Once

	livenessErr error
}

// Open builds the pool and performs one synchronous liveness check.
//
// Only an unusable configuration is returned as an error. A failed
// liveness check leaves the pool in the degraded state (see Degraded and
// LivenessErr); whether that is fatal is the caller's decision.
func Open(ctx context.Context, s Settings) (*Pool, error) {
	if s.ConnString == "" {
		return nil, fmt.Errorf("%w: empty connection string", ErrInvalidConfig)
	}

	if s.MaxConns < 1 || s.MinConns < 0 || s.MinConns > s.MaxConns {
		return nil, fmt.Errorf("%w: pool bounds min=%d max=%d", ErrInvalidConfig, s.MinConns, s.MaxConns)
	}

	if s.AcquireTimeout <= 0 || s.BatchAcquireTimeout <= 0 {
		return nil, fmt.Errorf("%w: acquire timeouts must be positive", ErrInvalidConfig)
	}

	poolCfg, err := pgxpool.ParseConfig(s.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	poolCfg.MinConns = s.MinConns
	poolCfg.MaxConns = s.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = s.AcquireTimeout

	if s.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = s.IdleTimeout
	}

	poolCfg.HealthCheckPeriod = s.HealthCheckPeriod
	if poolCfg.HealthCheckPeriod <= 0 {
		poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	}

	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	p := &Pool{pool: pgPool, settings: s}
	p.livenessErr = p.Ping(ctx)

	return p, nil
}

// Degraded reports whether the most recent liveness check failed.
func (p *Pool) Degraded() bool {
	return p.degraded.Load()
}

// LivenessErr returns the outcome of the check performed by Open.
func (p *Pool) LivenessErr() error {
	return p.livenessErr
}

// Settings returns the settings the pool was opened with.
func (p *Pool) Settings() Settings {
	return p.settings
}

// Acquire checks out a connection, waiting at most the workload's acquire
// timeout. The caller must Release it.
//
// A wait that runs out while every connection is checked out fails with
// ErrPoolExhausted. A connection that finishes opening after the caller
// gave up is returned to the idle set, never leaked.
func (p *Pool) Acquire(ctx context.Context, w Workload) (*pgxpool.Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	timeout := p.timeout(w)

	actx, cancel := context.WithTimeoutCause(ctx, timeout, ErrPoolExhausted)
	defer cancel()

	conn, err := p.pool.Acquire(actx)
	if err != nil {
		return nil, p.acquireErr(ctx, actx, w, err)
	}

	return conn, nil
}

func (p *Pool) timeout(w Workload) time.Duration {
	if w == Batch {
		return p.settings.BatchAcquireTimeout
	}

	return p.settings.AcquireTimeout
}

// acquireErr classifies a failed acquisition.
func (p *Pool) acquireErr(ctx, actx context.Context, w Workload, err error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	if ctx.Err() != nil {
		return fmt.Errorf("acquiring connection: %w", ctx.Err())
	}

	if errors.Is(context.Cause(actx), ErrPoolExhausted) {
		stat := p.pool.Stat()
		if stat.AcquiredConns() >= stat.MaxConns() {
			return fmt.Errorf("%w: %s wait exceeded %s with %d/%d connections in use",
				ErrPoolExhausted, w, p.timeout(w), stat.AcquiredConns(), stat.MaxConns())
		}
	}

	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// WithConn runs fn on a checked-out connection and releases it afterwards.
// PostgreSQL rejections returned by fn surface as *QueryError.
func (p *Pool) WithConn(ctx context.Context, w Workload, op string, fn func(conn *pgxpool.Conn) error) error {
	conn, err := p.Acquire(ctx, w)
	if err != nil {
		return err
	}
	defer conn.Release()

	return wrapRejection(op, fn(conn))
}

// Exec runs a single statement on a pooled connection.
func (p *Pool) Exec(ctx context.Context, w Workload, op, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag

	err := p.WithConn(ctx, w, op, func(conn *pgxpool.Conn) error {
		var execErr error
		tag, execErr = conn.Exec(ctx, sql, args...)

		return execErr
	})

	return tag, err
}

// InTx runs fn inside a transaction on a pooled connection.
// On success the transaction is committed; on error it is rolled back.
func (p *Pool) InTx(ctx context.Context, w Workload, op string, fn func(tx pgx.Tx) error) error {
	return p.WithConn(ctx, w, op, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}

		defer tx.Rollback(ctx) //nolint:errcheck // rollback on committed tx returns ErrTxClosed

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}

		return nil
	})
}

// Ping runs a trivial round trip, bounded by the interactive acquire
// timeout, and updates the degraded state. Failures wrap ErrUnreachable.
func (p *Pool) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.settings.AcquireTimeout)
	defer cancel()

	err := p.WithConn(ctx, Interactive, "pinging database", func(conn *pgxpool.Conn) error {
		var one int

		return conn.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
	if err != nil {
		p.degraded.Store(true)

		if errors.Is(err, ErrUnreachable) {
			return err
		}

		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	p.degraded.Store(false)

	return nil
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() State {
	st := p.pool.Stat()

	return State{
		MinSize:              p.settings.MinConns,
		MaxSize:              st.MaxConns(),
		Active:               st.AcquiredConns(),
		Idle:                 st.IdleConns(),
		Total:                st.TotalConns(),
		Degraded:             p.degraded.Load(),
		Closed:               p.closed.Load(),
		AcquireCount:         st.AcquireCount(),
		CanceledAcquireCount: st.CanceledAcquireCount(),
		EmptyAcquireCount:    st.EmptyAcquireCount(),
	}
}

// Teardown stops new acquisitions, waits for checked-out connections to
// be released, and closes every connection. Safe to call more than once.
func (p *Pool) Teardown() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.pool.Close()
	})
}
