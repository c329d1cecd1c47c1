// Package ledger applies and rolls back schema migrations in batches and
// records what has been applied in the schema_migrations table.
package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/migration"
)

// AllBatches passed to Rollback undoes every applied batch.
const AllBatches = -1

// Direction is the way a run moves the schema.
type Direction int

// Directions.
const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "rollback"
	}

	return "apply"
}

// Progress status constants reported via ProgressEvent.
const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ProgressEvent is emitted for each migration a run processes.
type ProgressEvent struct {
	Migration *migration.Migration
	Direction Direction
	Batch     int
	Status    string
	Duration  time.Duration
	Error     error
}

// Result summarises a run. Batch is zero when there was nothing to do.
// For rollbacks it is the most recent batch touched.
type Result struct {
	Batch  int
	Names  []string
	DryRun bool
}

// lockReleaser is returned by lockFunc and must be released when done.
type lockReleaser interface {
	Release(ctx context.Context) error
}

// lockFunc acquires the ledger's advisory lock.
type lockFunc func(ctx context.Context) (lockReleaser, error)

// step is one migration moved in one direction.
type step struct {
	migration *migration.Migration
	direction Direction
	batch     int
}

// stepFunc executes a step and updates its record atomically.
type stepFunc func(ctx context.Context, s step) error

// Ledger runs migrations against a pool. Runs are serialised across
// processes by a PostgreSQL advisory lock.
type Ledger struct {
	pool             *database.Pool
	records          RecordStore
	lockTimeout      time.Duration
	statementTimeout time.Duration
	dryRun           bool
	onProgress       func(ProgressEvent)
	acquireLock      lockFunc
	runStep          stepFunc
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLockTimeout sets the per-transaction lock_timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.lockTimeout = d }
}

// WithStatementTimeout sets the per-transaction statement_timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.statementTimeout = d }
}

// WithDryRun reports what a run would do without executing any SQL.
func WithDryRun(b bool) Option {
	return func(l *Ledger) { l.dryRun = b }
}

// WithProgressCallback sets a function called for each migration processed.
func WithProgressCallback(fn func(ProgressEvent)) Option {
	return func(l *Ledger) { l.onProgress = fn }
}

// New creates a Ledger. records is normally NewTracker(pool).
func New(pool *database.Pool, records RecordStore, opts ...Option) *Ledger {
	l := &Ledger{
		pool:    pool,
		records: records,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.acquireLock == nil {
		l.acquireLock = func(ctx context.Context) (lockReleaser, error) {
			return database.TryAcquireLock(ctx, l.pool)
		}
	}

	if l.runStep == nil {
		l.runStep = l.executeStep
	}

	return l
}

// Apply runs every pending migration, in ascending name order, as one new
// batch. Each migration and its record commit together, so a failure
// leaves earlier migrations applied and returns a *PartialFailure.
func (l *Ledger) Apply(ctx context.Context, migrations []migration.Migration) (Result, error) {
	lock, err := l.acquireLock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquiring ledger lock: %w", err)
	}
	defer lock.Release(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort release on return

	applied, sources, err := l.load(ctx, migrations)
	if err != nil {
		return Result{}, err
	}

	pending, err := pendingMigrations(sources, applied)
	if err != nil {
		return Result{}, err
	}

	if len(pending) == 0 {
		return Result{}, nil
	}

	res := Result{Batch: maxBatch(applied) + 1, DryRun: l.dryRun}

	for _, m := range pending {
		if err := l.move(ctx, step{migration: m, direction: Up, batch: res.Batch}); err != nil {
			return res, &PartialFailure{
				Direction: Up,
				Batch:     res.Batch,
				Failed:    m.Name(),
				Completed: slices.Clone(res.Names),
				Err:       err,
			}
		}

		res.Names = append(res.Names, m.Name())
	}

	return res, nil
}

// Rollback undoes the most recent steps batches, or every batch when steps
// is AllBatches. Within a batch migrations are undone in descending name
// order. Nothing is executed unless every selected migration is known and
// reversible.
func (l *Ledger) Rollback(ctx context.Context, migrations []migration.Migration, steps int) (Result, error) {
	if steps != AllBatches && steps < 1 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidSteps, steps)
	}

	lock, err := l.acquireLock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquiring ledger lock: %w", err)
	}
	defer lock.Release(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort release on return

	applied, sources, err := l.load(ctx, migrations)
	if err != nil {
		return Result{}, err
	}

	targets, err := rollbackTargets(sources, applied, steps)
	if err != nil {
		return Result{}, err
	}

	if len(targets) == 0 {
		return Result{}, nil
	}

	res := Result{Batch: targets[0].batch, DryRun: l.dryRun}

	for _, s := range targets {
		if err := l.move(ctx, s); err != nil {
			return res, &PartialFailure{
				Direction: Down,
				Batch:     s.batch,
				Failed:    s.migration.Name(),
				Completed: slices.Clone(res.Names),
				Err:       err,
			}
		}

		res.Names = append(res.Names, s.migration.Name())
	}

	return res, nil
}

// load ensures the bookkeeping table and reads the applied records. Every
// record must still have a source, otherwise neither direction can be
// trusted.
func (l *Ledger) load(ctx context.Context, migrations []migration.Migration) ([]Record, map[string]*migration.Migration, error) {
	if err := l.records.EnsureTable(ctx); err != nil {
		return nil, nil, err
	}

	applied, err := l.records.Applied(ctx)
	if err != nil {
		return nil, nil, err
	}

	sources := make(map[string]*migration.Migration, len(migrations))
	for i := range migrations {
		sources[migrations[i].Name()] = &migrations[i]
	}

	for _, r := range applied {
		if _, ok := sources[r.Name]; !ok {
			return nil, nil, fmt.Errorf("%w: %s (batch %d)", ErrUnknownMigration, r.Name, r.Batch)
		}
	}

	return applied, sources, nil
}

// move runs one step and reports its progress.
func (l *Ledger) move(ctx context.Context, s step) error {
	if l.dryRun {
		l.fireProgress(ProgressEvent{Migration: s.migration, Direction: s.direction, Batch: s.batch, Status: StatusSkipped})
		return nil
	}

	l.fireProgress(ProgressEvent{Migration: s.migration, Direction: s.direction, Batch: s.batch, Status: StatusStarting})

	start := time.Now()
	err := l.runStep(ctx, s)
	duration := time.Since(start)

	if err != nil {
		l.fireProgress(ProgressEvent{
			Migration: s.migration,
			Direction: s.direction,
			Batch:     s.batch,
			Status:    StatusFailed,
			Duration:  duration,
			Error:     err,
		})

		return err
	}

	l.fireProgress(ProgressEvent{
		Migration: s.migration,
		Direction: s.direction,
		Batch:     s.batch,
		Status:    StatusCompleted,
		Duration:  duration,
	})

	return nil
}

// pendingMigrations returns the unapplied sources in ascending name order,
// after checking that applied sources have not been edited.
func pendingMigrations(sources map[string]*migration.Migration, applied []Record) ([]*migration.Migration, error) {
	recorded := make(map[string]Record, len(applied))
	for _, r := range applied {
		recorded[r.Name] = r
	}

	pending := make([]*migration.Migration, 0, len(sources))

	for name, m := range sources {
		r, ok := recorded[name]
		if !ok {
			pending = append(pending, m)
			continue
		}

		if r.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %s: %w: stored=%s computed=%s",
				name, ErrChecksumMismatch, r.Checksum, m.Checksum)
		}
	}

	slices.SortFunc(pending, func(a, b *migration.Migration) int {
		return cmp.Compare(a.Name(), b.Name())
	})

	return pending, nil
}

// rollbackTargets selects the records of the newest steps batches, newest
// batch first and descending name within a batch.
func rollbackTargets(sources map[string]*migration.Migration, applied []Record, steps int) ([]step, error) {
	batches := make([]int, 0)
	for _, r := range applied {
		batches = append(batches, r.Batch)
	}

	slices.Sort(batches)
	batches = slices.Compact(batches)
	slices.Reverse(batches)

	if steps != AllBatches && steps < len(batches) {
		batches = batches[:steps]
	}

	selected := make([]Record, 0, len(applied))

	for _, r := range applied {
		if slices.Contains(batches, r.Batch) {
			selected = append(selected, r)
		}
	}

	slices.SortFunc(selected, func(a, b Record) int {
		if c := cmp.Compare(b.Batch, a.Batch); c != 0 {
			return c
		}

		return cmp.Compare(b.Name, a.Name)
	})

	targets := make([]step, 0, len(selected))

	for _, r := range selected {
		m := sources[r.Name]
		if !m.Reversible() {
			return nil, fmt.Errorf("%w: %s", ErrIrreversible, r.Name)
		}

		targets = append(targets, step{migration: m, direction: Down, batch: r.Batch})
	}

	return targets, nil
}

func maxBatch(applied []Record) int {
	highest := 0
	for _, r := range applied {
		highest = max(highest, r.Batch)
	}

	return highest
}

func (l *Ledger) fireProgress(event ProgressEvent) {
	if l.onProgress != nil {
		l.onProgress(event)
	}
}
