// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleloader

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"grimm.is/flywall/internal/errors"
)

// ApplyMigrations runs every *.sql file in dir against the database at
// path, in lexical filename order, recording each one in a
// schema_migrations table so a later run does not reapply it (spec §6.4:
// "Migrations are external"; spec §6.6, --migrations).
func ApplyMigrations(path, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, errors.KindNotFound, "reading migrations directory %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}

	conn, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "opening database %s for migrations", path)
	}
	defer conn.Close()

	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY)`); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "creating schema_migrations table")
	}

	for _, name := range names {
		var applied int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "checking migration state for %s", name)
		}
		if applied > 0 {
			continue
		}

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "reading migration %s", name)
		}

		tx, err := conn.Begin()
		if err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "starting transaction for migration %s", name)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, errors.KindUnavailable, "applying migration %s", name)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, name); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, errors.KindUnavailable, "recording migration %s", name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "committing migration %s", name)
		}
	}

	return nil
}
