package migration_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/joke-server/internal/ddl"
	"github.com/aqasim81/joke-server/internal/migration"
)

func file(s string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(s)}
}

func TestLoadFromFS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr error
		check   func(t *testing.T, ms []migration.Migration)
	}{
		{
			name: "pairs up and down files and sorts by name",
			fsys: fstest.MapFS{
				"migrations/20251216000002_add_rating.up.sql":           file("ALTER TABLE jokes ADD COLUMN rating INT;"),
				"migrations/20251216000002_add_rating.down.sql":         file("ALTER TABLE jokes DROP COLUMN rating;"),
				"migrations/20251216000001_create_jokes_table.up.sql":   file("  CREATE TABLE jokes (id SERIAL);\n"),
				"migrations/20251216000001_create_jokes_table.down.sql": file("DROP TABLE IF EXISTS jokes;"),
			},
			check: func(t *testing.T, ms []migration.Migration) {
				t.Helper()
				require.Len(t, ms, 2)

				first := ms[0]
				assert.Equal(t, "20251216000001_create_jokes_table", first.Name())
				assert.Equal(t, "create_jokes_table", first.Description)
				assert.Equal(t, "CREATE TABLE jokes (id SERIAL);", first.UpSQL, "SQL is trimmed")
				assert.Equal(t, "DROP TABLE IF EXISTS jokes;", first.DownSQL)
				assert.Equal(t, migration.ComputeChecksum(first.UpSQL), first.Checksum)
				assert.Equal(t, "migrations/20251216000001_create_jokes_table.up.sql", first.Path)

				assert.Equal(t, "20251216000002_add_rating", ms[1].Name())
			},
		},
		{
			name: "V-prefixed versions are accepted",
			fsys: fstest.MapFS{
				"migrations/V001_create_jokes.up.sql": file("CREATE TABLE jokes (id INT);"),
			},
			check: func(t *testing.T, ms []migration.Migration) {
				t.Helper()
				require.Len(t, ms, 1)
				assert.Equal(t, "001", ms[0].Version)
				assert.False(t, ms[0].Reversible())
			},
		},
		{
			name: "orphan down files and unrelated files are skipped",
			fsys: fstest.MapFS{
				"migrations/20251216000003_orphan.down.sql": file("DROP TABLE x;"),
				"migrations/README.md":                      file("# readme"),
				"migrations/notes.sql":                      file("SELECT 1;"),
			},
			check: func(t *testing.T, ms []migration.Migration) {
				t.Helper()
				assert.Empty(t, ms)
			},
		},
		{
			name: "V-prefixed versions of mixed width are rejected",
			fsys: fstest.MapFS{
				"migrations/V1_create_a.up.sql": file("CREATE TABLE a (id INT);"),
				"migrations/V2_create_b.up.sql": file("CREATE TABLE b (id INT);"),
				"migrations/V10_alter_a.up.sql": file("ALTER TABLE a ADD COLUMN n INT;"),
			},
			wantErr: migration.ErrMixedVersionWidth,
		},
		{
			name: "padded V-prefixed versions apply in numeric order",
			fsys: fstest.MapFS{
				"migrations/V001_create_a.up.sql": file("CREATE TABLE a (id INT);"),
				"migrations/V002_create_b.up.sql": file("CREATE TABLE b (id INT);"),
				"migrations/V010_alter_a.up.sql":  file("ALTER TABLE a ADD COLUMN n INT;"),
			},
			check: func(t *testing.T, ms []migration.Migration) {
				t.Helper()
				require.Len(t, ms, 3)
				assert.Equal(t, "001_create_a", ms[0].Name())
				assert.Equal(t, "002_create_b", ms[1].Name())
				assert.Equal(t, "010_alter_a", ms[2].Name())
			},
		},
		{
			name: "same version with different descriptions is rejected",
			fsys: fstest.MapFS{
				"migrations/20251216000001_create_jokes.up.sql": file("SELECT 1;"),
				"migrations/20251216000001_create_puns.up.sql":  file("SELECT 1;"),
			},
			wantErr: migration.ErrDuplicateVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ms, err := migration.LoadFromFS(tt.fsys, "migrations")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			tt.check(t, ms)
		})
	}
}

func TestLoadFromFS_missingDirectory_returnsError(t *testing.T) {
	t.Parallel()

	_, err := migration.LoadFromFS(fstest.MapFS{}, "migrations")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading migrations directory")
}

func TestLoadFromDir_readsFilesOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "V001_create_jokes.up.sql"), []byte("CREATE TABLE jokes (id INT);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "V001_create_jokes.down.sql"), []byte("DROP TABLE jokes;"), 0o644))

	ms, err := migration.LoadFromDir(dir)

	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "DROP TABLE jokes;", ms[0].DownSQL)
}

func TestLoadFromDir_missingDirectory_returnsError(t *testing.T) {
	t.Parallel()

	_, err := migration.LoadFromDir(filepath.Join(t.TempDir(), "nonexistent"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading migrations from")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := migration.Migration{Version: "001", Description: "ok", UpSQL: "CREATE TABLE t (id INT);", DownSQL: "DROP TABLE t;"}
	badUp := migration.Migration{Version: "002", Description: "bad_up", UpSQL: "CREATE TABLE (;"}
	badDown := migration.Migration{Version: "003", Description: "bad_down", UpSQL: "SELECT 1;", DownSQL: "DROP TABLE;"}

	require.NoError(t, migration.Validate([]migration.Migration{valid}))

	err := migration.Validate([]migration.Migration{valid, badUp})
	require.ErrorIs(t, err, ddl.ErrInvalidSQL)
	assert.Contains(t, err.Error(), "002_bad_up (up)")

	err = migration.Validate([]migration.Migration{badDown})
	require.ErrorIs(t, err, ddl.ErrInvalidSQL)
	assert.Contains(t, err.Error(), "(down)")
}
