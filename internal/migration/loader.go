package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/aqasim81/joke-server/internal/ddl"
)

// ErrDuplicateVersion indicates two migrations share a version but differ in description.
var ErrDuplicateVersion = errors.New("duplicate migration version")

// ErrMixedVersionWidth indicates V-prefixed versions of different lengths,
// which would not apply in numeric order (V10 sorts before V2).
var ErrMixedVersionWidth = errors.New("V-prefixed versions must share one width")

// filenamePattern matches migration files in two formats:
//
//	V{version}_{description}.{up|down}.sql   (e.g., V001_create_jokes.up.sql, zero-padded to one width)
//	{timestamp}_{description}.{up|down}.sql  (e.g., 20251216000001_create_jokes_table.up.sql)
var filenamePattern = regexp.MustCompile( //nolint:gochecknoglobals // compiled once, used by LoadFromFS
	`^(?:V(\d+)|(\d{14}))_(.+)\.(up|down)\.sql$`,
)

// LoadFromDir loads migrations from a directory on disk.
func LoadFromDir(dir string) ([]Migration, error) {
	ms, err := LoadFromFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("loading migrations from %s: %w", dir, err)
	}

	return ms, nil
}

// LoadFromFS scans dir inside fsys for migration files and returns them
// sorted by name. Files that do not match the naming pattern and orphan
// .down.sql files are skipped.
func LoadFromFS(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	grouped, err := scanEntries(entries)
	if err != nil {
		return nil, err
	}

	migrations, err := buildMigrations(fsys, dir, grouped)
	if err != nil {
		return nil, err
	}

	return Sort(migrations), nil
}

// migrationFile is an intermediate struct for pairing up/down files.
type migrationFile struct {
	version     string
	description string
	upFile      string // filename only (not full path)
	downFile    string // filename only (not full path)
}

// scanEntries groups directory entries by version.
func scanEntries(entries []fs.DirEntry) (map[string]*migrationFile, error) {
	grouped := make(map[string]*migrationFile)
	firstV := ""

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := filenamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version := matches[1] // V-prefixed version
		if version == "" {
			version = matches[2] // timestamp version
		} else {
			switch {
			case firstV == "":
				firstV = version
			case len(version) != len(firstV):
				return nil, fmt.Errorf("%w: V%s and V%s", ErrMixedVersionWidth, firstV, version)
			}
		}

		description := matches[3]
		direction := matches[4]

		mf, ok := grouped[version]
		if !ok {
			mf = &migrationFile{version: version, description: description}
			grouped[version] = mf
		} else if mf.description != description {
			return nil, fmt.Errorf("%w: %s used by %q and %q", ErrDuplicateVersion, version, mf.description, description)
		}

		if direction == "up" {
			mf.upFile = entry.Name()
		} else {
			mf.downFile = entry.Name()
		}
	}

	return grouped, nil
}

// buildMigrations reads file contents and constructs Migration values from grouped files.
func buildMigrations(fsys fs.FS, dir string, grouped map[string]*migrationFile) ([]Migration, error) {
	migrations := make([]Migration, 0, len(grouped))

	for _, mf := range grouped {
		if mf.upFile == "" {
			continue // orphan .down.sql
		}

		m, err := readMigration(fsys, dir, mf)
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, m)
	}

	return migrations, nil
}

// readMigration reads up/down SQL files and builds a Migration.
func readMigration(fsys fs.FS, dir string, mf *migrationFile) (Migration, error) {
	upPath := path.Join(dir, mf.upFile)

	upSQL, err := readSQL(fsys, upPath)
	if err != nil {
		return Migration{}, err
	}

	var downSQL string

	if mf.downFile != "" {
		downSQL, err = readSQL(fsys, path.Join(dir, mf.downFile))
		if err != nil {
			return Migration{}, err
		}
	}

	return Migration{
		Version:     mf.version,
		Description: mf.description,
		UpSQL:       upSQL,
		DownSQL:     downSQL,
		Checksum:    ComputeChecksum(upSQL),
		Path:        upPath,
	}, nil
}

func readSQL(fsys fs.FS, p string) (string, error) {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return "", fmt.Errorf("reading migration file %s: %w", p, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// Validate parses the forward and backward SQL of every migration so
// syntax errors surface before anything touches the database.
func Validate(migrations []Migration) error {
	for i := range migrations {
		m := &migrations[i]

		if _, err := ddl.Parse(m.UpSQL); err != nil {
			return fmt.Errorf("migration %s (up): %w", m.Name(), err)
		}

		if _, err := ddl.Parse(m.DownSQL); err != nil {
			return fmt.Errorf("migration %s (down): %w", m.Name(), err)
		}
	}

	return nil
}
