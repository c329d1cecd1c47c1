// Package seed replaces the contents of the jokes table with a dataset.
package seed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/schema"
)

// Loader writes datasets through the pool.
type Loader struct {
	pool *database.Pool
}

// New creates a Loader backed by the given pool.
func New(pool *database.Pool) *Loader {
	return &Loader{pool: pool}
}

// Run deletes every joke and bulk-loads d in one transaction, returning
// the number of rows inserted. Readers see either the old set or the new
// one. Ids are assigned afresh on every run.
func (l *Loader) Run(ctx context.Context, d Dataset) (int, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}

	var inserted int64

	err := l.pool.InTx(ctx, database.Batch, "seeding "+schema.JokesTable, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, schema.JokesTable).Scan(&exists); err != nil {
			return fmt.Errorf("checking seed table: %w", err)
		}

		if !exists {
			return fmt.Errorf("%w: %s", ErrTableMissing, schema.JokesTable)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{schema.JokesTable}.Sanitize()); err != nil {
			return fmt.Errorf("clearing %s: %w", schema.JokesTable, err)
		}

		rows := make([][]any, len(d.Jokes))
		for i, j := range d.Jokes {
			rows[i] = []any{j}
		}

		n, err := tx.CopyFrom(ctx, pgx.Identifier{schema.JokesTable}, []string{"content"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying jokes: %w", err)
		}

		inserted = n

		return nil
	})
	if err != nil {
		return 0, err
	}

	return int(inserted), nil
}
