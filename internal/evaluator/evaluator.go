// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package evaluator implements the ordered rule walk (spec §4.2): the
// verifier-safe, bounded loop that decides PASS/DROP/CONTINUE for a packet.
// It is the Go-side reference the in-kernel classifier (internal/xdpprog) is
// written against, and it is what the test suite and, through
// internal/dispatch, the replay tool exercise directly since a kernel
// program cannot be unit-tested in process.
package evaluator

import (
	"grimm.is/flywall/internal/packetview"
	"grimm.is/flywall/internal/rule"
)

// Table is the read side of the kernel-visible rule table (spec §3.3): a
// dense index 0..N-1, evaluated in index order. Index 0 is evaluated first.
type Table interface {
	// Get returns the rule stored at dense index i, or ok=false once the
	// table has run out of entries.
	Get(i uint32) (rule.Rule, bool)
	// Len returns the number of populated entries, bounding the walk.
	Len() uint32
}

// Evaluate walks table in order and returns the verdict for pv, plus the
// rule_id that decided it (0 iff the verdict is ActionContinue, meaning no
// rule matched - spec §4.2, §8.1).
func Evaluate(pv packetview.PacketView, table Table) (rule.Action, uint32) {
	n := table.Len()
	for i := uint32(0); i < n; i++ {
		r, ok := table.Get(i)
		if !ok {
			break
		}
		if !applicable(r, pv) {
			continue
		}
		if !matches(r, pv) {
			continue
		}
		if r.Action == rule.ActionContinue {
			continue
		}
		return r.Action, r.RuleID
	}
	return rule.ActionContinue, 0
}

// applicable implements spec §4.2 step 2: the coarse filters that decide
// whether a rule is even in scope for this packet, independent of its
// address/port predicate.
func applicable(r rule.Rule, pv packetview.PacketView) bool {
	if !r.Enabled {
		return false
	}
	switch pv.Family {
	case packetview.FamilyV4:
		if !r.V4 {
			return false
		}
	case packetview.FamilyV6:
		if !r.V6 {
			return false
		}
	default:
		return false
	}
	if pv.Input && !r.Input {
		return false
	}
	if !pv.Input && !r.Output {
		return false
	}
	if r.TCP && pv.Proto != packetview.ProtoTCP {
		return false
	}
	if r.UDP && pv.Proto != packetview.ProtoUDP {
		return false
	}
	if r.IfIndex != 0 && r.IfIndex != pv.IfIndex {
		return false
	}
	return true
}

// matches implements the match predicate of spec §4.2.1: the rule matches
// iff its source half or its destination half matches, where an empty half
// never matches.
func matches(r rule.Rule, pv packetview.PacketView) bool {
	return halfMatches(r.Source, pv, true) || halfMatches(r.Destination, pv, false)
}

func halfMatches(h rule.Half, pv packetview.PacketView, source bool) bool {
	if h.Empty() {
		return false
	}

	var addr, ruleAddr []byte
	if pv.Family == packetview.FamilyV4 {
		ruleAddr = h.V4Addr[:]
		if source {
			addr = pv.SrcV4[:]
		} else {
			addr = pv.DstV4[:]
		}
	} else {
		ruleAddr = h.V6Addr[:]
		if source {
			addr = pv.SrcV6[:]
		} else {
			addr = pv.DstV6[:]
		}
	}

	if !prefixMatch(ruleAddr, addr, h.PrefixLen) {
		return false
	}

	port := pv.DstPort
	if source {
		port = pv.SrcPort
	}
	return h.Ports.Contains(port)
}

// prefixMatch implements subnet membership by prefix-masked equality (spec
// §4.2.1). For 16-byte (v6) addresses it splits into high/low 64-bit halves
// so no part of the hot path needs 128-bit arithmetic, matching the
// constraint the in-kernel verifier places on the compiled program (spec
// §9).
func prefixMatch(ruleAddr, pktAddr []byte, prefixLen uint8) bool {
	if prefixLen == 0 {
		return true // prefix length 0 matches every address (spec §8.3)
	}
	if len(ruleAddr) == 4 {
		mask := uint32(0xFFFFFFFF)
		if prefixLen < 32 {
			mask <<= (32 - prefixLen)
		}
		r := be32(ruleAddr)
		p := be32(pktAddr)
		return r&mask == p&mask
	}

	ruleHi, ruleLo := be64(ruleAddr[:8]), be64(ruleAddr[8:])
	pktHi, pktLo := be64(pktAddr[:8]), be64(pktAddr[8:])

	if prefixLen <= 64 {
		mask := uint64(0xFFFFFFFFFFFFFFFF)
		if prefixLen < 64 {
			mask <<= (64 - prefixLen)
		}
		return ruleHi&mask == pktHi&mask
	}
	if ruleHi != pktHi {
		return false
	}
	lowBits := prefixLen - 64
	mask := uint64(0xFFFFFFFFFFFFFFFF)
	if lowBits < 64 {
		mask <<= (64 - lowBits)
	}
	return ruleLo&mask == pktLo&mask
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
