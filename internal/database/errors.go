package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInvalidConfig indicates the pool settings or connection string are unusable.
var ErrInvalidConfig = errors.New("invalid database configuration")

// ErrUnreachable indicates the store could not be reached.
var ErrUnreachable = errors.New("database unreachable")

// ErrPoolExhausted indicates no connection became free before the acquire timeout.
// Callers may retry.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrPoolClosed indicates the pool has been torn down.
var ErrPoolClosed = errors.New("connection pool closed")

// ErrQueryFailed matches every *QueryError.
var ErrQueryFailed = errors.New("query failed")

// ErrLockNotAcquired indicates the advisory lock is already held by another process.
var ErrLockNotAcquired = errors.New("migration lock not acquired")

// QueryError reports a statement the store rejected.
type QueryError struct {
	Op   string // what the caller was doing, e.g. "fetching random joke"
	Code string // SQLSTATE, empty when the failure carried none
	Err  error
}

func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v (SQLSTATE %s)", e.Op, e.Err, e.Code)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrQueryFailed) true for any QueryError.
func (e *QueryError) Is(target error) bool { return target == ErrQueryFailed }

// NewQueryError wraps err as a QueryError, extracting the SQLSTATE when
// err carries a PostgreSQL error.
func NewQueryError(op string, err error) *QueryError {
	qe := &QueryError{Op: op, Err: err}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		qe.Code = pgErr.Code
	}

	return qe
}

// wrapRejection converts PostgreSQL rejections into QueryErrors and passes
// everything else through, so callers can still match pgx.ErrNoRows,
// context errors, and their own sentinels.
func wrapRejection(op string, err error) error {
	if err == nil {
		return nil
	}

	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return NewQueryError(op, err)
	}

	return err
}
