package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerLockID is the advisory lock identifier that serialises migration
// apply and rollback runs against one database.
const LedgerLockID int64 = 0x6a6f6b6573 // "jokes"

// LockHandle wraps a dedicated pooled connection that holds a
// session-level advisory lock. Call Release to unlock and return
// the connection to the pool.
type LockHandle struct {
	conn *pgxpool.Conn
}

// TryAcquireLock attempts to acquire the ledger's session-level advisory
// lock on a batch connection. Returns ErrLockNotAcquired if another
// process holds it. The caller must call handle.Release() when done.
func TryAcquireLock(ctx context.Context, pool *Pool) (*LockHandle, error) {
	conn, err := pool.Acquire(ctx, Batch)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	var acquired bool

	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", LedgerLockID).Scan(&acquired)
	if err != nil {
		conn.Release()

		return nil, NewQueryError("executing pg_try_advisory_lock", err)
	}

	if !acquired {
		conn.Release()

		return nil, ErrLockNotAcquired
	}

	return &LockHandle{conn: conn}, nil
}

// Release unlocks the advisory lock and returns the connection to the pool.
// Safe to call multiple times; subsequent calls are no-ops.
func (h *LockHandle) Release(ctx context.Context) error {
	if h == nil || h.conn == nil {
		return nil
	}

	conn := h.conn
	h.conn = nil

	_, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", LedgerLockID)
	if err != nil {
		// The session still holds the lock; closing the connection drops it
		// and the pool discards the closed connection on release.
		_ = conn.Conn().Close(context.WithoutCancel(ctx))
		conn.Release()

		return fmt.Errorf("releasing advisory lock: %w", err)
	}

	conn.Release()

	return nil
}
