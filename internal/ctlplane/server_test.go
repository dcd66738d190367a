// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlplane

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/mapsyncer"
	"grimm.is/flywall/internal/rule"
	"grimm.is/flywall/internal/rulestore"
)

func newTestServer(t *testing.T, yamlDir string) (*Server, string) {
	t.Helper()
	store := rulestore.New(nil)
	table := kernelmaps.NewSimRuleTable(64)
	syncer := mapsyncer.New(store, table, nil)
	socketPath := filepath.Join(t.TempDir(), "ctl.sock")
	s := New(socketPath, yamlDir, store, syncer, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, socketPath
}

func roundTrip(t *testing.T, socketPath string, req Request) []byte {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatal(err)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestReloadThenGetRulesReflectsYAMLDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "r.yaml"), []byte(`
name: a
order: 0
enabled: true
input: true
v4: true
action: drop
`), 0644); err != nil {
		t.Fatal(err)
	}

	_, socketPath := newTestServer(t, dir)

	reloadReply := roundTrip(t, socketPath, Request{Action: ActionReload})
	var msg string
	if err := json.Unmarshal(reloadReply, &msg); err != nil || msg != "Reload signal sent" {
		t.Fatalf("expected reload ack, got %s (err=%v)", reloadReply, err)
	}

	getReply := roundTrip(t, socketPath, Request{Action: ActionGetRules})
	var rules RuleSet
	if err := json.Unmarshal(getReply, &rules); err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule after reload, got %d", len(rules))
	}
}

func TestCreateRuleWithoutDBAssignsRandomID(t *testing.T) {
	_, socketPath := newTestServer(t, t.TempDir())

	req := Request{Action: ActionCreateRule, Rule: rule.Rule{
		Name: "new", Input: true, V4: true, Action: rule.ActionPass,
	}}
	reply := roundTrip(t, socketPath, req)
	var rules RuleSet
	if err := json.Unmarshal(reply, &rules); err != nil {
		t.Fatalf("expected a rule set reply, got %s (err=%v)", reply, err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	for id := range rules {
		if id == "0" {
			t.Fatal("expected a non-zero assigned rule_id")
		}
	}
}

func TestUnknownActionReturnsErrorString(t *testing.T) {
	_, socketPath := newTestServer(t, t.TempDir())
	reply := roundTrip(t, socketPath, Request{Action: "Nonsense"})
	var msg string
	if err := json.Unmarshal(reply, &msg); err != nil {
		t.Fatalf("expected an error string reply, got %s", reply)
	}
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
}
