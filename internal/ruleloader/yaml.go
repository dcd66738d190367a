// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ruleloader ingests rules from the two sources spec §4.6 names:
// a directory of YAML files, and rows from the persistent store. Either
// source failing to parse aborts its whole batch; partial ingestion is
// never surfaced.
package ruleloader

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/rule"
)

// yamlRule is the on-disk shape of one *.yaml rule file. It mirrors
// rule.Rule's yaml tags but keeps address fields as strings so the loader
// can accept bare addresses and CIDR notation (spec §4.6).
type yamlRule struct {
	Name    string `yaml:"name"`
	Order   int32  `yaml:"order"`
	Enabled bool   `yaml:"enabled"`

	Input  bool `yaml:"input"`
	Output bool `yaml:"output"`

	V4 bool `yaml:"v4"`
	V6 bool `yaml:"v6"`

	TCP bool `yaml:"tcp"`
	UDP bool `yaml:"udp"`

	SourceAddr string        `yaml:"source_addr"`
	SourcePort portRangeYAML `yaml:"source_port"`

	DestAddr string        `yaml:"destination_addr"`
	DestPort portRangeYAML `yaml:"destination_port"`

	IfIndex uint32      `yaml:"ifindex"`
	Action  rule.Action `yaml:"action"`
}

type portRangeYAML struct {
	Start uint16 `yaml:"start"`
	End   uint16 `yaml:"end"`
}

// LoadYAMLDir reads every *.yaml file in dir, parsing one rule per file
// (spec §4.6). Each rule is assigned a random non-zero rule_id and tagged
// from_db = false. A single malformed file aborts the entire batch.
func LoadYAMLDir(dir string) ([]rule.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "reading rule directory %s", dir)
	}

	var out []rule.Rule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "reading rule file %s", path)
		}

		var yr yamlRule
		if err := yaml.Unmarshal(data, &yr); err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "parsing rule file %s", path)
		}

		r, err := fromYAML(yr)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "rule file %s", path)
		}
		r.RuleID, err = RandomRuleID()
		if err != nil {
			return nil, err
		}
		r.FromDB = false
		if err := r.Validate(); err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "rule file %s", path)
		}
		out = append(out, r)
	}
	return out, nil
}

func fromYAML(yr yamlRule) (rule.Rule, error) {
	r := rule.Rule{
		Name:    yr.Name,
		Order:   yr.Order,
		Enabled: yr.Enabled,
		Input:   yr.Input,
		Output:  yr.Output,
		V4:      yr.V4,
		V6:      yr.V6,
		TCP:     yr.TCP,
		UDP:     yr.UDP,
		IfIndex: yr.IfIndex,
		Action:  yr.Action,
	}

	src, err := parseHalf(yr.SourceAddr, yr.V6, rule.PortRange(yr.SourcePort))
	if err != nil {
		return r, fmt.Errorf("source_addr: %w", err)
	}
	r.Source = src

	dst, err := parseHalf(yr.DestAddr, yr.V6, rule.PortRange(yr.DestPort))
	if err != nil {
		return r, fmt.Errorf("destination_addr: %w", err)
	}
	r.Destination = dst

	return r, nil
}

// parseHalf parses an address field per spec §4.6: a bare address gets
// prefix length 0 ("any", per the assumed reading of the open question in
// spec §9); a CIDR literal keeps its address and prefix. Empty strings
// produce the empty Half (the "no predicate on this side" case).
func parseHalf(addr string, v6 bool, ports rule.PortRange) (rule.Half, error) {
	if addr == "" {
		return rule.Half{Ports: ports}, nil
	}

	if strings.Contains(addr, "/") {
		ip, ipNet, err := net.ParseCIDR(addr)
		if err != nil {
			return rule.Half{}, fmt.Errorf("invalid CIDR %q: %w", addr, err)
		}
		ones, _ := ipNet.Mask.Size()
		return rule.HalfFromNet(ip, uint8(ones), v6, ports), nil
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return rule.Half{}, fmt.Errorf("invalid address %q", addr)
	}
	return rule.HalfFromNet(ip, 0, v6, ports), nil
}

// RandomRuleID draws a random non-zero rule_id (spec §4.6), used both for
// YAML-sourced rules and for CreateRule requests with no persistent store
// configured to assign an id.
func RandomRuleID() (uint32, error) {
	var buf [4]byte
	for i := 0; i < 8; i++ {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, errors.Wrap(err, errors.KindInternal, "generating random rule_id")
		}
		id := binary.BigEndian.Uint32(buf[:])
		if id != 0 {
			return id, nil
		}
	}
	return 0, errors.New(errors.KindInternal, "failed to generate a non-zero rule_id")
}
