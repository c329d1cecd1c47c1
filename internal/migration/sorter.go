package migration

import (
	"cmp"
	"slices"
)

// Sort returns a copy of migrations in ascending name order, the order
// they are applied in.
func Sort(migrations []Migration) []Migration {
	sorted := slices.Clone(migrations)

	slices.SortStableFunc(sorted, func(a, b Migration) int {
		return cmp.Compare(a.Name(), b.Name())
	})

	return sorted
}
