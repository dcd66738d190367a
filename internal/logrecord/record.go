// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logrecord defines the per-packet log record (spec §3.4) as it
// crosses the kernel/userspace boundary, and its serialized wire form (spec
// §6.3) as it crosses the log fan-out socket.
package logrecord

import "time"

// Severity is the level a LogRecord carries, matching what the local logger
// and the fan-out clients both understand.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Direction mirrors packetview.PacketView's direction without importing that
// package, keeping logrecord a leaf dependency usable from both the kernel
// map layer and the collector.
type Direction uint8

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// Family mirrors packetview.Family.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV4 {
		return "v4"
	}
	return "v6"
}

// L4 mirrors packetview.Proto. An unhandled protocol is not an L4 value; it
// is recorded separately in LogRecord.UnhandledProtocol.
type L4 uint8

const (
	L4Other L4 = iota
	L4TCP
	L4UDP
)

func (l L4) String() string {
	switch l {
	case L4TCP:
		return "tcp"
	case L4UDP:
		return "udp"
	default:
		return "other"
	}
}

const messageSlugLen = 128

// LogRecord is the fixed-size, 200-byte transient record emitted by the
// dispatch entry points (spec §3.4). MessageSlug is NUL-padded to
// messageSlugLen bytes, and the blank 7-byte field before TimestampNS
// matches the padding of the ring buffer entry the in-kernel probe writes,
// so the two layouts are identical.
type LogRecord struct {
	MessageSlug [messageSlugLen]byte

	Direction         Direction
	Family            Family
	L4                L4
	UnhandledProtocol bool

	SrcV4, DstV4 [4]byte
	SrcV6, DstV6 [16]byte
	SrcPort      uint16
	DstPort      uint16

	// RuleID == 0 means no rule matched (spec §3.1, §8.1).
	RuleID  uint32
	IfIndex uint32

	Severity Severity
	_        [7]byte

	// TimestampNS is a monotonic nanosecond timestamp from the kernel
	// clock (spec §3.4); it is not wall-clock time until the collector
	// converts it.
	TimestampNS uint64
}

// Message returns the NUL-padded slug as a Go string.
func (r LogRecord) Message() string {
	n := 0
	for n < len(r.MessageSlug) && r.MessageSlug[n] != 0 {
		n++
	}
	return string(r.MessageSlug[:n])
}

// SetMessage copies msg into the NUL-padded slug, truncating if necessary.
func (r *LogRecord) SetMessage(msg string) {
	var buf [messageSlugLen]byte
	n := copy(buf[:], msg)
	_ = n
	r.MessageSlug = buf
}

// Serialized is the wire shape for the log fan-out socket (spec §6.3):
// addresses become strings, the timestamp becomes unix seconds, and the
// record is enriched with the interface name and rule metadata that only
// userspace (C9) can resolve.
type Serialized struct {
	Direction string `json:"direction"`
	Family    string `json:"family"`
	L4        string `json:"l4"`

	SrcV4 string `json:"src_v4,omitempty"`
	DstV4 string `json:"dst_v4,omitempty"`
	SrcV6 string `json:"src_v6,omitempty"`
	DstV6 string `json:"dst_v6,omitempty"`

	SrcPort uint16 `json:"src_port"`
	DstPort uint16 `json:"dst_port"`

	RuleID   uint32 `json:"rule_id"`
	RuleName string `json:"rule_name,omitempty"`
	Action   string `json:"action,omitempty"`

	IfName string `json:"ifname"`

	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Now is a package variable so the clock can be replaced; the collector
// takes the wall-clock time it observed the record at, since TimestampNS is a
// monotonic kernel clock reading with no fixed epoch relationship.
var Now = time.Now
