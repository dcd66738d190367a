// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flywall-ctl is a thin client for the control socket (spec §6.2):
// it sends one Request and prints the one reply it gets back, then exits.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"grimm.is/flywall/internal/ctlplane"
	"grimm.is/flywall/internal/rule"
)

func main() {
	socketPath := flag.String("socket", "/run/flywall/ctl.sock", "control socket path")
	action := flag.String("action", "", "Reload | GetRules | UpdateRule | CreateRule")
	ruleFile := flag.String("rule", "", "path to a JSON rule document (required for UpdateRule/CreateRule)")
	flag.Parse()

	if err := run(*socketPath, *action, *ruleFile); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(socketPath, action, ruleFile string) error {
	req, err := buildRequest(action, ruleFile)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	var reply json.RawMessage
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}

	pretty, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func buildRequest(action, ruleFile string) (ctlplane.Request, error) {
	switch ctlplane.Action(action) {
	case ctlplane.ActionReload, ctlplane.ActionGetRules:
		return ctlplane.Request{Action: ctlplane.Action(action)}, nil
	case ctlplane.ActionUpdateRule, ctlplane.ActionCreateRule:
		if ruleFile == "" {
			return ctlplane.Request{}, fmt.Errorf("-rule is required for action %s", action)
		}
		body, err := os.ReadFile(ruleFile)
		if err != nil {
			return ctlplane.Request{}, fmt.Errorf("reading rule file %s: %w", ruleFile, err)
		}
		var r rule.Rule
		if err := json.Unmarshal(body, &r); err != nil {
			return ctlplane.Request{}, fmt.Errorf("parsing rule file %s: %w", ruleFile, err)
		}
		return ctlplane.Request{Action: ctlplane.Action(action), Rule: r}, nil
	default:
		return ctlplane.Request{}, fmt.Errorf("unknown action %q (want Reload, GetRules, UpdateRule, or CreateRule)", action)
	}
}
