// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dispatch implements the two entry points of spec §4.4: ingress
// (XDP-style) and egress (TC-style). Both compose the header parser
// (packetview), the rule evaluator, and log emission, and are the Go-side
// reference the in-kernel classifier's SEC("xdp") and SEC("tc") programs
// mirror field-for-field.
package dispatch

import (
	"grimm.is/flywall/internal/evaluator"
	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/packetview"
	"grimm.is/flywall/internal/rule"
)

// Verdict is the direction-agnostic outcome dispatch settles on. Callers
// that need the hook's native encoding (XDP_PASS/XDP_DROP on ingress,
// TC_ACT_OK/TC_ACT_SHOT on egress) translate Verdict at the attach boundary
// (spec §6.1); nothing above that boundary needs to know the encoding.
type Verdict uint8

const (
	VerdictPass Verdict = iota
	VerdictDrop
)

// Clock returns a monotonic nanosecond timestamp, matching the kernel clock
// source a compiled program would read (spec §3.4). Tests substitute a
// deterministic clock.
type Clock func() uint64

// Ingress implements the ingress hook (spec §4.4): parse, evaluate, log,
// verdict.
func Ingress(frame []byte, ifindex uint32, table evaluator.Table, ring kernelmaps.LogRing, clock Clock) Verdict {
	pv, err := packetview.Parse(frame, ifindex, true)
	switch e := err.(type) {
	case nil:
		return evaluate(pv, table, ring, clock)
	case *packetview.NonIP:
		return VerdictPass
	case *packetview.UnhandledProtocol:
		emitUnhandled(*e, ring, clock)
		return VerdictDrop
	case *packetview.Truncated:
		return VerdictDrop
	default:
		return VerdictDrop
	}
}

// Egress implements the egress hook (spec §4.4). Its NonIP and default-pass
// cases return VerdictPass here too: the distinction from ingress is made by
// the caller translating Verdict into the hook-native TC_ACT_OK (which lets
// the packet continue down the stack, i.e. "pass"/"pipe") vs TC_ACT_SHOT.
func Egress(frame []byte, ifindex uint32, table evaluator.Table, ring kernelmaps.LogRing, clock Clock) Verdict {
	pv, err := packetview.Parse(frame, ifindex, false)
	switch e := err.(type) {
	case nil:
		return evaluate(pv, table, ring, clock)
	case *packetview.NonIP:
		return VerdictPass
	case *packetview.UnhandledProtocol:
		emitUnhandled(*e, ring, clock)
		return VerdictDrop
	case *packetview.Truncated:
		return VerdictDrop
	default:
		return VerdictDrop
	}
}

func evaluate(pv packetview.PacketView, table evaluator.Table, ring kernelmaps.LogRing, clock Clock) Verdict {
	action, id := evaluator.Evaluate(pv, table)

	rec := logrecord.LogRecord{
		Direction:   direction(pv.Input),
		Family:      family(pv.Family),
		L4:          l4(pv.Proto),
		SrcV4:       pv.SrcV4,
		DstV4:       pv.DstV4,
		SrcV6:       pv.SrcV6,
		DstV6:       pv.DstV6,
		SrcPort:     pv.SrcPort,
		DstPort:     pv.DstPort,
		RuleID:      id,
		IfIndex:     pv.IfIndex,
		TimestampNS: clock(),
	}

	switch action {
	case rule.ActionPass:
		rec.Severity = logrecord.SeverityInfo
		rec.SetMessage("OK")
		ring.Emit(rec)
		return VerdictPass
	case rule.ActionDrop:
		rec.Severity = logrecord.SeverityWarn
		rec.SetMessage("BAN")
		ring.Emit(rec)
		return VerdictDrop
	default: // ActionContinue with id == 0: no rule matched (spec §4.2)
		rec.Severity = logrecord.SeverityDebug
		rec.SetMessage("DEFAULT")
		ring.Emit(rec)
		return VerdictPass
	}
}

func emitUnhandled(e packetview.UnhandledProtocol, ring kernelmaps.LogRing, clock Clock) {
	rec := logrecord.LogRecord{
		Direction:         direction(e.Input),
		Family:            family(e.Family),
		L4:                logrecord.L4Other,
		UnhandledProtocol: true,
		SrcV4:             e.SrcV4,
		DstV4:             e.DstV4,
		SrcV6:             e.SrcV6,
		DstV6:             e.DstV6,
		IfIndex:           e.IfIndex,
		Severity:          logrecord.SeverityError,
		TimestampNS:       clock(),
	}
	rec.SetMessage("UNHANDLED_PROTOCOL")
	ring.Emit(rec)
}

func direction(input bool) logrecord.Direction {
	if input {
		return logrecord.DirectionInput
	}
	return logrecord.DirectionOutput
}

func family(f packetview.Family) logrecord.Family {
	if f == packetview.FamilyV6 {
		return logrecord.FamilyV6
	}
	return logrecord.FamilyV4
}

func l4(p packetview.Proto) logrecord.L4 {
	switch p {
	case packetview.ProtoTCP:
		return logrecord.L4TCP
	case packetview.ProtoUDP:
		return logrecord.L4UDP
	default:
		return logrecord.L4Other
	}
}
