package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMigrationFailed matches every *PartialFailure.
var ErrMigrationFailed = errors.New("migration failed")

// ErrChecksumMismatch indicates a recorded migration whose source has changed since it was applied.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// ErrUnknownMigration indicates a recorded migration with no matching source.
var ErrUnknownMigration = errors.New("recorded migration has no source")

// ErrIrreversible indicates a migration selected for rollback that has no down SQL.
var ErrIrreversible = errors.New("migration has no down SQL")

// ErrInvalidSteps indicates a rollback step count that is neither positive nor AllBatches.
var ErrInvalidSteps = errors.New("invalid rollback steps")

// ErrTableCreation indicates the schema_migrations table could not be created.
var ErrTableCreation = errors.New("creating schema_migrations table")

// PartialFailure reports a run that stopped part way through. Migrations
// listed in Completed were committed and stay in their new state;
// re-running the same direction resumes at Failed.
type PartialFailure struct {
	Direction Direction
	Batch     int
	Failed    string
	Completed []string
	Err       error
}

func (e *PartialFailure) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s stopped at %s (batch %d)", e.Direction, e.Failed, e.Batch)

	if len(e.Completed) > 0 {
		fmt.Fprintf(&b, " after %s", strings.Join(e.Completed, ", "))
	}

	fmt.Fprintf(&b, ": %v", e.Err)

	return b.String()
}

func (e *PartialFailure) Unwrap() []error { return []error{ErrMigrationFailed, e.Err} }
