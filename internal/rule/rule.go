// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rule defines the authoritative Rule record (spec §3.1) shared by
// the rule store, the rule loader, the map syncer, and the control endpoint.
package rule

import (
	"net"

	"grimm.is/flywall/internal/errors"
)

// Action is the verdict a matching rule produces. It is a closed, three-way
// tagged union - never add a fourth variant here, the kernel evaluator's
// bounded loop assumes exactly these three.
type Action string

const (
	ActionPass     Action = "pass"
	ActionDrop     Action = "drop"
	ActionContinue Action = "continue"
)

// Valid reports whether a is one of the three defined actions.
func (a Action) Valid() bool {
	switch a {
	case ActionPass, ActionDrop, ActionContinue:
		return true
	}
	return false
}

// PortRange is an inclusive [Start, End] range. Start == End == 0 means "any
// port" (spec §3.1).
type PortRange struct {
	Start uint16 `json:"start" yaml:"start"`
	End   uint16 `json:"end" yaml:"end"`
}

// Any reports whether the range matches every port.
func (r PortRange) Any() bool {
	return r.Start == 0 && r.End == 0
}

// Contains reports whether port p falls in the range.
func (r PortRange) Contains(p uint16) bool {
	if r.Any() {
		return true
	}
	return p >= r.Start && p <= r.End
}

// Half is one side (source or destination) of a rule's match predicate:
// an address prefix plus a port range.
type Half struct {
	// Addr holds the literal address for whichever family the rule applies
	// to. Only one of the two 16-byte arrays is populated in practice, but
	// both are retained on the struct per spec §3.1 ("two fields, one
	// unused per family") so a rule record has a single fixed layout
	// regardless of family - the same layout the kernel-visible RULES map
	// row uses.
	V4Addr     [4]byte
	V6Addr     [16]byte
	PrefixLen  uint8
	Ports      PortRange
}

// Empty reports whether this half carries no predicate at all: a zero
// address and an "any port" range. Spec §4.2.1 requires an empty half to
// never contribute a match.
func (h Half) Empty() bool {
	zeroV4 := h.V4Addr == [4]byte{}
	zeroV6 := h.V6Addr == [16]byte{}
	return zeroV4 && zeroV6 && h.Ports.Any()
}

// Rule is the immutable-once-loaded record described in spec §3.1.
type Rule struct {
	RuleID uint32 `json:"rule_id" yaml:"-"`
	Name   string `json:"name" yaml:"name"`
	Order  int32  `json:"order" yaml:"order"`

	Enabled bool `json:"enabled" yaml:"enabled"`

	Input  bool `json:"input" yaml:"input"`
	Output bool `json:"output" yaml:"output"`

	V4 bool `json:"v4" yaml:"v4"`
	V6 bool `json:"v6" yaml:"v6"`

	TCP bool `json:"tcp" yaml:"tcp"`
	UDP bool `json:"udp" yaml:"udp"`

	Source      Half `json:"source" yaml:"-"`
	Destination Half `json:"destination" yaml:"-"`

	// IfIndex == 0 means "any interface" (spec §3.1).
	IfIndex uint32 `json:"ifindex" yaml:"ifindex"`

	Action Action `json:"action" yaml:"action"`

	// FromDB marks a rule loaded from the persistent store (spec §4.5,
	// §4.6); such rules are re-persisted on Change instead of being
	// silently overwritten.
	FromDB bool `json:"-" yaml:"-"`
}

// Validate checks the invariants of spec §3.1 and §8.1/8.3. It never
// mutates r.
func (r Rule) Validate() error {
	if r.RuleID == 0 {
		return errors.New(errors.KindValidation, "rule_id must be non-zero")
	}
	if len(r.Name) > 128 {
		return errors.New(errors.KindValidation, "name exceeds 128 bytes")
	}
	if !r.Action.Valid() {
		return errors.Errorf(errors.KindValidation, "invalid action %q", r.Action)
	}
	if !r.Input && !r.Output {
		return errors.New(errors.KindValidation, "rule must select at least one of input/output")
	}
	if r.V4 && r.V6 {
		return errors.New(errors.KindValidation, "rule must select exactly one family when materialized")
	}
	if !r.V4 && !r.V6 {
		return errors.New(errors.KindValidation, "rule must select a family (v4 or v6)")
	}

	maxPrefix := uint8(32)
	if r.V6 {
		maxPrefix = 128
	}
	if r.Source.PrefixLen > maxPrefix {
		return errors.Errorf(errors.KindValidation, "source prefix length %d exceeds %d", r.Source.PrefixLen, maxPrefix)
	}
	if r.Destination.PrefixLen > maxPrefix {
		return errors.Errorf(errors.KindValidation, "destination prefix length %d exceeds %d", r.Destination.PrefixLen, maxPrefix)
	}
	if r.Source.Ports.Start > r.Source.Ports.End {
		return errors.New(errors.KindValidation, "source port range start exceeds end")
	}
	if r.Destination.Ports.Start > r.Destination.Ports.End {
		return errors.New(errors.KindValidation, "destination port range start exceeds end")
	}
	return nil
}

// Less orders two rules by (order, rule_id) ascending, per spec §3.1 and §4.7.
func Less(a, b Rule) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.RuleID < b.RuleID
}

// HalfFromNet builds a Half from a net.IP and CIDR prefix length. v6 selects
// which 16-byte field is populated.
func HalfFromNet(ip net.IP, prefixLen uint8, v6 bool, ports PortRange) Half {
	h := Half{PrefixLen: prefixLen, Ports: ports}
	if ip == nil {
		return h
	}
	if v6 {
		if ip4 := ip.To4(); ip4 == nil {
			copy(h.V6Addr[:], ip.To16())
		}
	} else if ip4 := ip.To4(); ip4 != nil {
		copy(h.V4Addr[:], ip4)
	}
	return h
}
