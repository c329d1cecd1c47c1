//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/ledger"
	"github.com/aqasim81/joke-server/internal/migration"
)

func makeMigration(version, description, up, down string) migration.Migration {
	return migration.Migration{
		Version:     version,
		Description: description,
		UpSQL:       up,
		DownSQL:     down,
		Checksum:    migration.ComputeChecksum(up),
	}
}

func makeMigrations() []migration.Migration {
	return []migration.Migration{
		makeMigration("20250101000001", "create_authors",
			"CREATE TABLE authors (id SERIAL PRIMARY KEY, name TEXT NOT NULL);",
			"DROP TABLE authors;"),
		makeMigration("20250101000002", "create_ratings",
			"CREATE TABLE ratings (id SERIAL PRIMARY KEY, author_id INTEGER REFERENCES authors(id), stars INT);",
			"DROP TABLE ratings;"),
		makeMigration("20250101000003", "index_ratings",
			"CREATE INDEX ratings_stars_index ON ratings (stars);",
			"DROP INDEX ratings_stars_index;"),
	}
}

func newLedger(pool *database.Pool) (*ledger.Ledger, *ledger.Tracker) {
	tr := ledger.NewTracker(pool)
	return ledger.New(pool, tr), tr
}

func TestLedger_apply_recordsEveryMigrationAndCreatesObjects(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, tr := newLedger(pool)

	var events []ledger.ProgressEvent
	l = ledger.New(pool, tr, ledger.WithProgressCallback(func(ev ledger.ProgressEvent) {
		events = append(events, ev)
	}))

	res, err := l.Apply(ctx, makeMigrations())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batch)
	require.Len(t, res.Names, 3)

	records, err := tr.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, r := range records {
		assert.Equal(t, res.Names[i], r.Name)
		assert.Equal(t, 1, r.Batch)
		assert.False(t, r.AppliedAt.IsZero())
	}

	assert.True(t, tableExists(t, pool, "authors"))
	assert.True(t, tableExists(t, pool, "ratings"))
	assert.True(t, tableExists(t, pool, "ratings_stars_index"))

	assert.Len(t, events, 6, "starting and completed for each migration")
}

func TestLedger_apply_secondRunIsNoOp(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, _ := newLedger(pool)

	_, err := l.Apply(ctx, makeMigrations())
	require.NoError(t, err)

	res, err := l.Apply(ctx, makeMigrations())
	require.NoError(t, err)
	assert.Zero(t, res.Batch)
	assert.Empty(t, res.Names)
}

func TestLedger_apply_newMigrationsGoInNextBatch(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, tr := newLedger(pool)
	all := makeMigrations()

	_, err := l.Apply(ctx, all[:2])
	require.NoError(t, err)

	res, err := l.Apply(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batch)
	assert.Equal(t, []string{all[2].Name()}, res.Names)

	status, err := l.Status(ctx, all)
	require.NoError(t, err)
	require.Len(t, status, 3)
	assert.Equal(t, 1, status[0].Batch)
	assert.Equal(t, 2, status[2].Batch)

	records, err := tr.Applied(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestLedger_rollback_removesRecordsAndObjects(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, tr := newLedger(pool)
	all := makeMigrations()

	_, err := l.Apply(ctx, all[:1])
	require.NoError(t, err)

	_, err = l.Apply(ctx, all[1:])
	require.NoError(t, err)

	res, err := l.Rollback(ctx, all, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batch)
	assert.Equal(t, []string{all[2].Name(), all[1].Name()}, res.Names)

	assert.True(t, tableExists(t, pool, "authors"))
	assert.False(t, tableExists(t, pool, "ratings"))
	assert.False(t, tableExists(t, pool, "ratings_stars_index"))

	records, err := tr.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, all[0].Name(), records[0].Name)

	res, err = l.Rollback(ctx, all, ledger.AllBatches)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batch)
	assert.False(t, tableExists(t, pool, "authors"))

	res, err = l.Rollback(ctx, all, 1)
	require.NoError(t, err)
	assert.Zero(t, res.Batch)
}

func TestLedger_roundTrip_restoresIdenticalState(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, tr := newLedger(pool)
	all := makeMigrations()

	first, err := l.Apply(ctx, all)
	require.NoError(t, err)

	firstRecords, err := tr.Applied(ctx)
	require.NoError(t, err)

	columns := `SELECT count(*) FROM information_schema.columns WHERE table_schema = 'public' AND table_name <> 'schema_migrations'`
	firstColumns := queryInt(t, pool, columns)

	_, err = l.Rollback(ctx, all, ledger.AllBatches)
	require.NoError(t, err)
	assert.Zero(t, queryInt(t, pool, columns))

	again, err := l.Apply(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, first.Batch, again.Batch)
	assert.Equal(t, first.Names, again.Names)

	againRecords, err := tr.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, againRecords, len(firstRecords))

	for i := range firstRecords {
		assert.Equal(t, firstRecords[i].Name, againRecords[i].Name)
		assert.Equal(t, firstRecords[i].Batch, againRecords[i].Batch)
		assert.Equal(t, firstRecords[i].Checksum, againRecords[i].Checksum)
	}

	assert.Equal(t, firstColumns, queryInt(t, pool, columns))
}

func TestLedger_midBatchFailure_keepsCompletedAndResumes(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, tr := newLedger(pool)

	good := makeMigration("20250101000001", "create_authors", "CREATE TABLE authors (id INT);", "DROP TABLE authors;")
	bad := makeMigration("20250101000002", "broken", "CREATE TABLE broken (id INT REFERENCES nowhere(id));", "DROP TABLE broken;")
	after := makeMigration("20250101000003", "create_notes", "CREATE TABLE notes (id INT);", "DROP TABLE notes;")

	_, err := l.Apply(ctx, []migration.Migration{good, bad, after})

	var pf *ledger.PartialFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, bad.Name(), pf.Failed)
	assert.Equal(t, []string{good.Name()}, pf.Completed)

	var qe *database.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "42P01", qe.Code)

	// The failed migration rolled back atomically: no table, no record.
	assert.True(t, tableExists(t, pool, "authors"))
	assert.False(t, tableExists(t, pool, "broken"))
	assert.False(t, tableExists(t, pool, "notes"))

	records, err := tr.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	fixed := makeMigration("20250101000002", "broken", "CREATE TABLE broken (id INT);", "DROP TABLE broken;")

	res, err := l.Apply(ctx, []migration.Migration{good, fixed, after})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batch)
	assert.Equal(t, []string{fixed.Name(), after.Name()}, res.Names)
}

func TestLedger_concurrentIndex_runsOutsideTransaction(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, tr := newLedger(pool)

	ms := []migration.Migration{
		makeMigration("20250101000001", "create_authors", "CREATE TABLE authors (id INT, name TEXT);", "DROP TABLE authors;"),
		makeMigration("20250101000002", "index_names",
			"CREATE INDEX CONCURRENTLY authors_name_index ON authors (name);\nCREATE INDEX CONCURRENTLY authors_id_index ON authors (id);",
			"DROP INDEX CONCURRENTLY authors_id_index; DROP INDEX CONCURRENTLY authors_name_index;"),
	}

	_, err := l.Apply(ctx, ms)
	require.NoError(t, err)
	assert.True(t, tableExists(t, pool, "authors_name_index"))
	assert.True(t, tableExists(t, pool, "authors_id_index"))

	records, err := tr.Applied(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = l.Rollback(ctx, ms, 1)
	require.NoError(t, err)
	assert.False(t, tableExists(t, pool, "authors_name_index"))
}

func TestLedger_concurrentApply_serialisedByLock(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()

	const runners = 4

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		batches []int
		locked  int
	)

	for range runners {
		wg.Add(1)

		go func() {
			defer wg.Done()

			l, _ := newLedger(pool)
			res, err := l.Apply(ctx, makeMigrations())

			mu.Lock()
			defer mu.Unlock()

			switch {
			case errors.Is(err, database.ErrLockNotAcquired):
				locked++
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			default:
				batches = append(batches, res.Batch)
			}
		}()
	}

	wg.Wait()

	applied := 0
	for _, b := range batches {
		if b != 0 {
			applied++
		}
	}

	assert.Equal(t, 1, applied, "exactly one runner applies the batch")
	assert.Equal(t, runners, len(batches)+locked)
	assert.Equal(t, int64(3), queryInt(t, pool, "SELECT count(*) FROM schema_migrations"))
}

func TestLedger_checksumMismatch_refusesToApply(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l, _ := newLedger(pool)
	all := makeMigrations()

	_, err := l.Apply(ctx, all[:1])
	require.NoError(t, err)

	edited := all[0]
	edited.UpSQL = "CREATE TABLE authors (id BIGINT);"
	edited.Checksum = migration.ComputeChecksum(edited.UpSQL)

	_, err = l.Apply(ctx, []migration.Migration{edited, all[1]})
	require.ErrorIs(t, err, ledger.ErrChecksumMismatch)
	assert.False(t, tableExists(t, pool, "ratings"))
}

func TestLedger_statementTimeout_abortsLongMigration(t *testing.T) {
	t.Parallel()

	pool := SetupPool(t)
	ctx := context.Background()
	l := ledger.New(pool, ledger.NewTracker(pool), ledger.WithStatementTimeout(100*time.Millisecond))

	slow := makeMigration("20250101000001", "slow", "SELECT pg_sleep(2);", "SELECT 1;")

	_, err := l.Apply(ctx, []migration.Migration{slow})

	var qe *database.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "57014", qe.Code, "query_canceled")
}
