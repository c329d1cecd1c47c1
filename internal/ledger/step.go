package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/ddl"
)

func (s step) sql() string {
	if s.direction == Down {
		return s.migration.DownSQL
	}

	return s.migration.UpSQL
}

// executeStep runs a step's SQL and updates its record in one transaction.
// SQL that PostgreSQL refuses to run in a transaction block, such as
// CREATE INDEX CONCURRENTLY, runs statement by statement on a single
// connection and the record is written straight after.
func (l *Ledger) executeStep(ctx context.Context, s step) error {
	sql := s.sql()
	op := s.direction.String() + " " + s.migration.Name()

	summary, err := ddl.Inspect(sql)
	if err != nil {
		return err
	}

	if summary.NonTransactional {
		return l.executeOutsideTx(ctx, op, s, sql)
	}

	return l.pool.InTx(ctx, database.Batch, op, func(tx pgx.Tx) error {
		if l.lockTimeout > 0 {
			if err := SetLockTimeout(ctx, tx, l.lockTimeout); err != nil {
				return err
			}
		}

		if l.statementTimeout > 0 {
			if err := SetStatementTimeout(ctx, tx, l.statementTimeout); err != nil {
				return err
			}
		}

		if sql != "" {
			if _, err := tx.Exec(ctx, sql); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
		}

		return l.record(ctx, tx, s)
	})
}

func (l *Ledger) executeOutsideTx(ctx context.Context, op string, s step, sql string) error {
	stmts, err := ddl.Split(sql)
	if err != nil {
		return err
	}

	return l.pool.WithConn(ctx, database.Batch, op, func(conn *pgxpool.Conn) error {
		for _, stmt := range stmts {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("executing outside transaction: %w", err)
			}
		}

		return l.record(ctx, conn, s)
	})
}

func (l *Ledger) record(ctx context.Context, q Execer, s step) error {
	if s.direction == Down {
		return l.records.Delete(ctx, q, s.migration.Name())
	}

	return l.records.Insert(ctx, q, Record{
		Name:     s.migration.Name(),
		Batch:    s.batch,
		Checksum: s.migration.Checksum,
	})
}
