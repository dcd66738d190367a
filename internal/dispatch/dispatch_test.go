// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dispatch

import (
	"net"
	"testing"

	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/rule"
)

func fixedClock() uint64 { return 1000 }

func v4Half(addr string, prefix uint8, action rule.Action) rule.Rule {
	ip := net.ParseIP(addr).To4()
	var h rule.Half
	copy(h.V4Addr[:], ip)
	h.PrefixLen = prefix
	return rule.Rule{Enabled: true, Input: true, V4: true, TCP: true, Source: h, Action: action}
}

func buildV4TCP(t *testing.T, src, dst string, sport, dport uint16) []byte {
	t.Helper()
	frame := make([]byte, 14+20+20)
	frame[12], frame[13] = 0x08, 0x00
	frame[14] = 0x45
	copy(frame[26:30], net.ParseIP(src).To4())
	copy(frame[30:34], net.ParseIP(dst).To4())
	frame[23] = 6
	l4 := 34
	frame[l4] = byte(sport >> 8)
	frame[l4+1] = byte(sport)
	frame[l4+2] = byte(dport >> 8)
	frame[l4+3] = byte(dport)
	return frame
}

func buildICMPv4(t *testing.T, src, dst string) []byte {
	t.Helper()
	frame := make([]byte, 14+20)
	frame[12], frame[13] = 0x08, 0x00
	frame[14] = 0x45
	copy(frame[26:30], net.ParseIP(src).To4())
	copy(frame[30:34], net.ParseIP(dst).To4())
	frame[23] = 1 // ICMP
	return frame
}

func buildARP(t *testing.T) []byte {
	t.Helper()
	frame := make([]byte, 14+28)
	frame[12], frame[13] = 0x08, 0x06
	return frame
}

type sliceTable []rule.Rule

func (s sliceTable) Get(i uint32) (rule.Rule, bool) {
	if i >= uint32(len(s)) {
		return rule.Rule{}, false
	}
	return s[i], true
}
func (s sliceTable) Len() uint32 { return uint32(len(s)) }

func TestIngressDropBySubnet(t *testing.T) {
	r := v4Half("10.0.0.0", 8, rule.ActionDrop)
	r.RuleID = 1
	ring := kernelmaps.NewSimLogRing(4)
	frame := buildV4TCP(t, "10.1.2.3", "192.168.1.1", 55555, 22)
	v := Ingress(frame, 2, sliceTable{r}, ring, fixedClock)
	if v != VerdictDrop {
		t.Fatalf("expected drop, got %v", v)
	}
	rec := <-ring.Records()
	if rec.RuleID != 1 || rec.Severity.String() != "warn" || rec.Message() != "BAN" {
		t.Fatalf("unexpected log record: %+v msg=%q", rec, rec.Message())
	}
}

func TestIngressDefaultPassNoRules(t *testing.T) {
	ring := kernelmaps.NewSimLogRing(4)
	frame := buildV4TCP(t, "1.2.3.4", "5.6.7.8", 1, 2)
	v := Ingress(frame, 1, sliceTable{}, ring, fixedClock)
	if v != VerdictPass {
		t.Fatalf("expected pass, got %v", v)
	}
	rec := <-ring.Records()
	if rec.RuleID != 0 || rec.Message() != "DEFAULT" {
		t.Fatalf("unexpected log record: %+v", rec)
	}
}

func TestEgressPassByRule(t *testing.T) {
	r := v4Half("1.1.1.0", 24, rule.ActionPass)
	r.RuleID = 5
	r.Input = false
	r.Output = true
	ring := kernelmaps.NewSimLogRing(4)
	frame := buildV4TCP(t, "1.1.1.1", "2.2.2.2", 1, 2)
	v := Egress(frame, 3, sliceTable{r}, ring, fixedClock)
	if v != VerdictPass {
		t.Fatalf("expected pass, got %v", v)
	}
	rec := <-ring.Records()
	if rec.RuleID != 5 || rec.Message() != "OK" {
		t.Fatalf("unexpected log record: %+v", rec)
	}
}

// scenario 6: unhandled protocol (ICMP) on ingress drops and logs an error.
func TestIngressUnhandledProtocolDropsAndLogs(t *testing.T) {
	ring := kernelmaps.NewSimLogRing(4)
	frame := buildICMPv4(t, "1.2.3.4", "5.6.7.8")
	v := Ingress(frame, 1, sliceTable{}, ring, fixedClock)
	if v != VerdictDrop {
		t.Fatalf("expected drop for unhandled protocol, got %v", v)
	}
	rec := <-ring.Records()
	if !rec.UnhandledProtocol || rec.Severity.String() != "error" {
		t.Fatalf("expected unhandled_protocol error record, got %+v", rec)
	}
}

func TestIngressNonIPPassesWithoutLogging(t *testing.T) {
	ring := kernelmaps.NewSimLogRing(4)
	frame := buildARP(t)
	v := Ingress(frame, 1, sliceTable{}, ring, fixedClock)
	if v != VerdictPass {
		t.Fatalf("expected pass for non-IP traffic, got %v", v)
	}
	select {
	case rec := <-ring.Records():
		t.Fatalf("expected no log record for non-IP traffic, got %+v", rec)
	default:
	}
}

func TestEgressNonIPPasses(t *testing.T) {
	ring := kernelmaps.NewSimLogRing(4)
	frame := buildARP(t)
	v := Egress(frame, 1, sliceTable{}, ring, fixedClock)
	if v != VerdictPass {
		t.Fatalf("expected pass for non-IP traffic on egress, got %v", v)
	}
}

func TestIngressTruncatedDrops(t *testing.T) {
	ring := kernelmaps.NewSimLogRing(4)
	frame := make([]byte, 10) // shorter than an ethernet header
	v := Ingress(frame, 1, sliceTable{}, ring, fixedClock)
	if v != VerdictDrop {
		t.Fatalf("expected drop for truncated frame, got %v", v)
	}
}
