package ledger

import (
	"context"
	"time"

	"github.com/aqasim81/joke-server/internal/migration"
)

// State of a migration as seen by Status.
type State string

const (
	StatePending State = "pending"
	StateApplied State = "applied"
	// StateMissing marks a record whose source no longer exists.
	StateMissing State = "missing"
)

// Entry describes one migration in Status output.
type Entry struct {
	Name      string
	State     State
	Batch     int       // zero unless applied
	AppliedAt time.Time // zero unless applied
	Modified  bool      // source checksum differs from the recorded one
}

// Status reports every source migration in apply order, followed by any
// records whose source is missing. It does not take the advisory lock.
func (l *Ledger) Status(ctx context.Context, migrations []migration.Migration) ([]Entry, error) {
	if err := l.records.EnsureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := l.records.Applied(ctx)
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]Record, len(applied))
	for _, r := range applied {
		recorded[r.Name] = r
	}

	sorted := migration.Sort(migrations)
	entries := make([]Entry, 0, len(sorted)+len(applied))
	known := make(map[string]bool, len(sorted))

	for i := range sorted {
		m := &sorted[i]
		known[m.Name()] = true

		r, ok := recorded[m.Name()]
		if !ok {
			entries = append(entries, Entry{Name: m.Name(), State: StatePending})
			continue
		}

		entries = append(entries, Entry{
			Name:      m.Name(),
			State:     StateApplied,
			Batch:     r.Batch,
			AppliedAt: r.AppliedAt,
			Modified:  r.Checksum != m.Checksum,
		})
	}

	for _, r := range applied {
		if !known[r.Name] {
			entries = append(entries, Entry{Name: r.Name, State: StateMissing, Batch: r.Batch, AppliedAt: r.AppliedAt})
		}
	}

	return entries, nil
}
