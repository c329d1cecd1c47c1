package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/joke-server/internal/database"
)

// createTableSQL is the DDL for the ledger's bookkeeping table.
const createTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name        TEXT PRIMARY KEY,
    batch       INTEGER NOT NULL CHECK (batch > 0),
    checksum    TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Record is one applied migration.
type Record struct {
	Name      string
	Batch     int
	Checksum  string
	AppliedAt time.Time
}

// Execer runs a statement. pgx.Tx and *pgxpool.Conn both satisfy it, so
// records can be written inside or outside the migration's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RecordStore abstracts schema_migrations for testability.
type RecordStore interface {
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) ([]Record, error)
	Insert(ctx context.Context, q Execer, r Record) error
	Delete(ctx context.Context, q Execer, name string) error
}

// Tracker manages the schema_migrations table.
type Tracker struct {
	pool *database.Pool
}

// NewTracker creates a Tracker backed by the given pool.
func NewTracker(pool *database.Pool) *Tracker {
	return &Tracker{pool: pool}
}

// EnsureTable creates the schema_migrations table if it does not exist.
func (t *Tracker) EnsureTable(ctx context.Context) error {
	if _, err := t.pool.Exec(ctx, database.Batch, "creating schema_migrations", createTableSQL); err != nil {
		return fmt.Errorf("%w: %w", ErrTableCreation, err)
	}

	return nil
}

// Applied returns every record ordered by batch, then name.
func (t *Tracker) Applied(ctx context.Context) ([]Record, error) {
	var records []Record

	err := t.pool.WithConn(ctx, database.Batch, "querying applied migrations", func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT name, batch, checksum, applied_at
			 FROM schema_migrations
			 ORDER BY batch, name`,
		)
		if err != nil {
			return err
		}

		records, err = pgx.CollectRows(rows, pgx.RowToStructByPos[Record])

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}

	return records, nil
}

// Insert records r as applied.
func (t *Tracker) Insert(ctx context.Context, q Execer, r Record) error {
	_, err := q.Exec(ctx,
		`INSERT INTO schema_migrations (name, batch, checksum) VALUES ($1, $2, $3)`,
		r.Name, r.Batch, r.Checksum,
	)
	if err != nil {
		return fmt.Errorf("recording %s as applied: %w", r.Name, err)
	}

	return nil
}

// Delete removes the record for name.
func (t *Tracker) Delete(ctx context.Context, q Execer, name string) error {
	tag, err := q.Exec(ctx, `DELETE FROM schema_migrations WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("removing record for %s: %w", name, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("removing record for %s: %w", name, ErrUnknownMigration)
	}

	return nil
}

// TableExists reports whether a relation with the given name is visible
// on the search path.
func (t *Tracker) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool

	err := t.pool.WithConn(ctx, database.Batch, "checking table "+name, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists)
	})
	if err != nil {
		return false, err
	}

	return exists, nil
}
