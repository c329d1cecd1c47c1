// Package jokes reads jokes from the store.
package jokes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/schema"
)

// ErrNotFound indicates the jokes table is empty.
var ErrNotFound = errors.New("no jokes found")

//nolint:gochecknoglobals // built once from the table constant
var (
	table       = pgx.Identifier{schema.JokesTable}.Sanitize()
	randomQuery = "SELECT id, content FROM " + table + " ORDER BY random() LIMIT 1"
	countQuery  = "SELECT count(*) FROM " + table
)

// Joke is one stored joke.
type Joke struct {
	ID      int64  `json:"id"`
	Content string `json:"joke"`
}

// Store runs joke queries through the pool.
type Store struct {
	pool *database.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool}
}

// Random returns one joke chosen uniformly at random. It sorts the whole
// table, which is fine for the few thousand rows this service holds.
func (s *Store) Random(ctx context.Context) (Joke, error) {
	var j Joke

	err := s.pool.WithConn(ctx, database.Interactive, "fetching random joke", func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, randomQuery).Scan(&j.ID, &j.Content)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Joke{}, ErrNotFound
	}

	if err != nil {
		return Joke{}, err
	}

	return j, nil
}

// Count returns the number of stored jokes.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64

	err := s.pool.WithConn(ctx, database.Interactive, "counting jokes", func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, countQuery).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("counting jokes: %w", err)
	}

	return n, nil
}
