package migration

import (
	"crypto/sha256"
	"encoding/hex"
)

// Migration is one reversible schema change.
type Migration struct {
	Version     string // "20251216000001" or "001", extracted from filename
	Description string // "create_jokes_table", extracted from filename
	UpSQL       string // forward schema operation
	DownSQL     string // backward schema operation (empty if irreversible)
	Checksum    string // SHA-256 hex digest of UpSQL
	Path        string // path of the .up.sql file within its file system
}

// Name is the ledger key: version and description joined by an underscore.
// Names sort in the order migrations must be applied.
func (m *Migration) Name() string {
	return m.Version + "_" + m.Description
}

// Reversible reports whether the migration has a backward operation.
func (m *Migration) Reversible() bool {
	return m.DownSQL != ""
}

// ComputeChecksum returns the SHA-256 hex digest of the given SQL string.
func ComputeChecksum(sql string) string {
	h := sha256.Sum256([]byte(sql))

	return hex.EncodeToString(h[:])
}
