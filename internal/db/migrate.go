package db

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one schema change
type Migration struct {
	Version      int
	Name         string
	UpSQL        string
	Dependencies []int
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up\s*$`)
	dependsRegex  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:\s*(.+)$`)
)

// Migrate applies every embedded migration not yet recorded in
// schema_migrations
func (db *DB) Migrate() error {
	migrations, err := LoadMigrations(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	return db.applyMigrations(migrations)
}

func (db *DB) applyMigrations(migrations []Migration) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	applied, err := db.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedSet := make(map[int]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	for _, migration := range migrations {
		if appliedSet[migration.Version] {
			continue
		}
		for _, dep := range migration.Dependencies {
			if !appliedSet[dep] {
				return fmt.Errorf("migration %d depends on version %d which has not been applied", migration.Version, dep)
			}
		}

		err := db.WithTransaction(func(tx *Tx) error {
			if _, err := tx.Exec(migration.UpSQL); err != nil {
				return fmt.Errorf("failed to execute SQL: %w", err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
				return fmt.Errorf("failed to record migration: %w", err)
			}
			return nil
		})
		switch {
		case IsDuplicate(err):
			// applied by another process since we looked
		case err != nil:
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		appliedSet[migration.Version] = true
	}

	return nil
}

// AppliedMigrations returns the applied migration versions, sorted
func (db *DB) AppliedMigrations() ([]int, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return []int{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	versions := []int{}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// ParseMigration parses one migration file. Dependency directives must
// directly follow the Up marker.
func ParseMigration(filename, content string) (*Migration, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	lines := strings.Split(content, "\n")
	upMarkerLine := -1
	for i, line := range lines {
		if upMarkerRegex.MatchString(strings.TrimSpace(line)) {
			upMarkerLine = i
			break
		}
	}
	if upMarkerLine < 0 {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	var dependencies []int
	sqlStart := len(lines)
	for i := upMarkerLine + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		if m := dependsRegex.FindStringSubmatch(line); m != nil {
			for _, field := range strings.Fields(m[1]) {
				dep, err := strconv.Atoi(field)
				if err != nil {
					return nil, fmt.Errorf("invalid dependency version '%s' in migration file: %s", field, filename)
				}
				dependencies = append(dependencies, dep)
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		sqlStart = i
		break
	}

	sql := strings.TrimSpace(strings.Join(lines[min(sqlStart, len(lines)):], "\n"))
	if sql == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}

	return &Migration{
		Version:      version,
		Name:         matches[2],
		UpSQL:        sql,
		Dependencies: dependencies,
	}, nil
}

// LoadMigrations reads every NNN_name.sql file in dir, sorted by version.
// Versions must start at 1 without gaps and dependencies must exist.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file: %w", err)
		}
		migration, err := ParseMigration(entry.Name(), string(content))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	versions := make(map[int]bool, len(migrations))
	for i, m := range migrations {
		if versions[m.Version] {
			return nil, fmt.Errorf("duplicate migration version: %d", m.Version)
		}
		if m.Version != i+1 {
			return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", i+1, m.Version)
		}
		versions[m.Version] = true
	}
	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if !versions[dep] {
				return nil, fmt.Errorf("migration %d depends on non-existent version %d", m.Version, dep)
			}
			if dep >= m.Version {
				return nil, fmt.Errorf("migration %d depends on later version %d", m.Version, dep)
			}
		}
	}

	return migrations, nil
}
