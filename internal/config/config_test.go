// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flywall.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesFullDocument(t *testing.T) {
	path := writeConfig(t, `
interfaces: [eth0, eth1]
control_socket: /run/flywall/ctl.sock
log_socket: /run/flywall/log.sock
database: /var/lib/flywall/rules.db
search_index_url: http://localhost:9200/log_messages/_doc
log_level: debug
log_json: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Interfaces) != 2 || cfg.Interfaces[0] != "eth0" {
		t.Fatalf("unexpected interfaces: %+v", cfg.Interfaces)
	}
	if cfg.ControlSocket != "/run/flywall/ctl.sock" {
		t.Fatalf("unexpected control socket: %s", cfg.ControlSocket)
	}
	if !cfg.LogJSON {
		t.Fatal("expected log_json true")
	}
}

func TestLoadRejectsMissingInterfaces(t *testing.T) {
	path := writeConfig(t, `
control_socket: /run/flywall/ctl.sock
log_socket: /run/flywall/log.sock
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing interfaces")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
