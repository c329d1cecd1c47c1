package migration_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aqasim81/joke-server/internal/migration"
)

// byName builds migrations from "version_description" names.
func byName(t *testing.T, list ...string) []migration.Migration {
	t.Helper()

	ms := make([]migration.Migration, len(list))
	for i, n := range list {
		version, description, _ := strings.Cut(n, "_")
		ms[i] = migration.Migration{Version: version, Description: description}
	}

	return ms
}

func names(ms []migration.Migration) []string {
	out := make([]string, len(ms))
	for i := range ms {
		out[i] = ms[i].Name()
	}

	return out
}

func TestSort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "timestamps ascending",
			input: []string{"20251216000002_seed_index", "20251216000001_create_jokes_table"},
			want:  []string{"20251216000001_create_jokes_table", "20251216000002_seed_index"},
		},
		{
			name:  "later year last",
			input: []string{"20260101000000_add_tags", "20251216000001_create_jokes_table"},
			want:  []string{"20251216000001_create_jokes_table", "20260101000000_add_tags"},
		},
		{
			name:  "same version ordered by description",
			input: []string{"001_b", "001_a"},
			want:  []string{"001_a", "001_b"},
		},
		{
			name:  "empty",
			input: []string{},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, names(migration.Sort(byName(t, tt.input...))))
		})
	}
}

func TestSort_leavesInputUntouched(t *testing.T) {
	t.Parallel()

	input := byName(t, "003_c", "001_a", "002_b")

	sorted := migration.Sort(input)

	assert.Equal(t, []string{"003_c", "001_a", "002_b"}, names(input))
	assert.Equal(t, []string{"001_a", "002_b", "003_c"}, names(sorted))
}
