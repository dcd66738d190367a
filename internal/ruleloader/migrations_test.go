// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleloader

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestApplyMigrationsRunsFilesInOrderOnce(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "0001_init.sql"), testSchema)
	mustWrite(t, filepath.Join(dir, "0002_seed.sql"), `INSERT INTO rules (
		name, "order", enabled, input, output, v4, v6, tcp, udp,
		src_addr, src_prefix_len, src_port_start, src_port_end,
		dst_addr, dst_prefix_len, dst_port_start, dst_port_end,
		ifindex, action
	) VALUES ('seed', 0, 1, 1, 0, 1, 0, 1, 0, '', 0, 0, 0, '', 0, 0, 0, 0, 'pass');`)

	dbPath := filepath.Join(dir, "rules.db")
	if err := ApplyMigrations(dbPath, dir); err != nil {
		t.Fatal(err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 seeded row, got %d", count)
	}

	// Re-running must not reapply the seed migration (which would violate
	// nothing here, but exercises the schema_migrations gate).
	if err := ApplyMigrations(dbPath, dir); err != nil {
		t.Fatal(err)
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected migration to not reapply, row count now %d", count)
	}
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
