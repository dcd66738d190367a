// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package kernelmaps

import "github.com/cilium/ebpf"

// LinuxMaps bundles the real RULES and LOG_RING maps, as handed back by
// internal/xdpprog.Loader, into the Maps interface.
type LinuxMaps struct {
	rules RuleTable
	log   LogRing
}

// NewLinuxMaps wraps already-loaded eBPF maps named "rules" and "log_ring"
// (see internal/xdpprog/c/classifier.c) into a Maps handle.
func NewLinuxMaps(rulesMap, logMap *ebpf.Map) (*LinuxMaps, error) {
	ring, err := NewLinuxLogRing(logMap)
	if err != nil {
		return nil, err
	}
	return &LinuxMaps{
		rules: NewLinuxRuleTable(rulesMap),
		log:   ring,
	}, nil
}

func (m *LinuxMaps) Rules() RuleTable { return m.rules }
func (m *LinuxMaps) Log() LogRing     { return m.log }
func (m *LinuxMaps) Close() error     { return m.log.Close() }
