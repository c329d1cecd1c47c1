// Package schema bundles the service's SQL migrations into the binary.
package schema

import (
	"embed"
	"fmt"

	"github.com/aqasim81/joke-server/internal/migration"
)

//go:embed migrations/*.sql
var files embed.FS

// JokesTable is the table served by the API and filled by the seed loader.
const JokesTable = "jokes"

// Migrations returns the bundled migrations in apply order.
func Migrations() ([]migration.Migration, error) {
	ms, err := migration.LoadFromFS(files, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading bundled migrations: %w", err)
	}

	if err := migration.Validate(ms); err != nil {
		return nil, err
	}

	return ms, nil
}
