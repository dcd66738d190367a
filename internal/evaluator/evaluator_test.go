// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package evaluator

import (
	"net"
	"testing"

	"grimm.is/flywall/internal/packetview"
	"grimm.is/flywall/internal/rule"
)

// sliceTable is a trivial in-memory Table used only by these tests; the
// real kernel-backed and sim-backed tables live in internal/kernelmaps.
type sliceTable []rule.Rule

func (s sliceTable) Get(i uint32) (rule.Rule, bool) {
	if i >= uint32(len(s)) {
		return rule.Rule{}, false
	}
	return s[i], true
}
func (s sliceTable) Len() uint32 { return uint32(len(s)) }

func v4Half(addr string, prefix uint8) rule.Half {
	ip := net.ParseIP(addr).To4()
	var h rule.Half
	copy(h.V4Addr[:], ip)
	h.PrefixLen = prefix
	return h
}

func v6Half(addr string, prefix uint8, ports rule.PortRange) rule.Half {
	ip := net.ParseIP(addr).To16()
	var h rule.Half
	copy(h.V6Addr[:], ip)
	h.PrefixLen = prefix
	h.Ports = ports
	return h
}

// scenario 1: ingress v4 drop by subnet
func TestScenarioIngressV4DropBySubnet(t *testing.T) {
	r := rule.Rule{
		RuleID: 1, Order: 0, Enabled: true, Input: true, V4: true, TCP: true,
		Source: v4Half("10.0.0.0", 8),
		Action: rule.ActionDrop,
	}
	frame := buildV4TCP(t, "10.1.2.3", "192.168.1.1", 55555, 22)
	pv, err := packetview.Parse(frame, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	verdict, id := Evaluate(pv, sliceTable{r})
	if verdict != rule.ActionDrop || id != 1 {
		t.Fatalf("expected drop/1, got %v/%d", verdict, id)
	}
}

// scenario 2: egress v6 pass by port
func TestScenarioEgressV6PassByPort(t *testing.T) {
	r := rule.Rule{
		RuleID: 2, Order: 1, Enabled: true, Output: true, V6: true, UDP: true,
		Destination: v6Half("::", 0, rule.PortRange{Start: 53, End: 53}),
		Action:      rule.ActionPass,
	}
	frame := buildV6UDP(t, "2001:db8::1", "2001:db8::2", 12345, 53)
	pv, err := packetview.Parse(frame, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	verdict, id := Evaluate(pv, sliceTable{r})
	if verdict != rule.ActionPass || id != 2 {
		t.Fatalf("expected pass/2, got %v/%d", verdict, id)
	}
}

// scenario 3: empty ruleset defaults to continue (=> pass upstream)
func TestScenarioNoMatchDefault(t *testing.T) {
	frame := buildV4TCP(t, "1.2.3.4", "5.6.7.8", 1111, 2222)
	pv, _ := packetview.Parse(frame, 1, true)
	verdict, id := Evaluate(pv, sliceTable{})
	if verdict != rule.ActionContinue || id != 0 {
		t.Fatalf("expected continue/0, got %v/%d", verdict, id)
	}
}

// scenario 4: disabled rule is ignored
func TestScenarioDisabledRuleIgnored(t *testing.T) {
	r := rule.Rule{
		RuleID: 1, Order: 0, Enabled: false, Input: true, V4: true, TCP: true,
		Source: v4Half("10.0.0.0", 8),
		Action: rule.ActionDrop,
	}
	frame := buildV4TCP(t, "10.1.2.3", "192.168.1.1", 55555, 22)
	pv, _ := packetview.Parse(frame, 2, true)
	verdict, id := Evaluate(pv, sliceTable{r})
	if verdict != rule.ActionContinue || id != 0 {
		t.Fatalf("expected continue/0 for disabled rule, got %v/%d", verdict, id)
	}
}

// scenario 5: interface filter excludes a non-matching ifindex
func TestScenarioInterfaceFilter(t *testing.T) {
	r := rule.Rule{
		RuleID: 1, Order: 0, Enabled: true, Input: true, V4: true, TCP: true,
		Source: v4Half("10.0.0.0", 8), IfIndex: 7,
		Action: rule.ActionDrop,
	}
	frame := buildV4TCP(t, "10.1.2.3", "192.168.1.1", 55555, 22)
	pv, _ := packetview.Parse(frame, 2, true)
	verdict, id := Evaluate(pv, sliceTable{r})
	if verdict != rule.ActionContinue || id != 0 {
		t.Fatalf("expected continue/0 for interface mismatch, got %v/%d", verdict, id)
	}
}

func TestPrefixLenZeroMatchesAnyAddress(t *testing.T) {
	r := rule.Rule{
		RuleID: 9, Order: 0, Enabled: true, Input: true, V4: true,
		// A non-zero address keeps the half non-empty; prefix length 0
		// then matches any source address.
		Source: v4Half("10.0.0.0", 0),
		Action: rule.ActionDrop,
	}
	frame := buildV4TCP(t, "203.0.113.9", "8.8.8.8", 1, 2)
	pv, _ := packetview.Parse(frame, 1, true)
	verdict, id := Evaluate(pv, sliceTable{r})
	if verdict != rule.ActionDrop || id != 9 {
		t.Fatalf("expected prefix/0 to match any address, got %v/%d", verdict, id)
	}
}

func TestContinueRuleDefersToNext(t *testing.T) {
	first := rule.Rule{
		RuleID: 1, Order: 0, Enabled: true, Input: true, V4: true,
		Source: v4Half("1.1.1.0", 24),
		Action: rule.ActionContinue,
	}
	second := rule.Rule{
		RuleID: 2, Order: 1, Enabled: true, Input: true, V4: true,
		Source: v4Half("1.1.1.0", 24),
		Action: rule.ActionPass,
	}
	frame := buildV4TCP(t, "1.1.1.1", "2.2.2.2", 1, 2)
	pv, _ := packetview.Parse(frame, 1, true)
	verdict, id := Evaluate(pv, sliceTable{first, second})
	if verdict != rule.ActionPass || id != 2 {
		t.Fatalf("expected second rule to decide, got %v/%d", verdict, id)
	}
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

func buildV6UDP(t *testing.T, src, dst string, sport, dport uint16) []byte {
	t.Helper()
	frame := make([]byte, 14+40+8)
	frame[12], frame[13] = 0x86, 0xDD
	frame[20] = 17
	copy(frame[22:38], net.ParseIP(src).To16())
	copy(frame[38:54], net.ParseIP(dst).To16())
	l4 := 54
	frame[l4] = byte(sport >> 8)
	frame[l4+1] = byte(sport)
	frame[l4+2] = byte(dport >> 8)
	frame[l4+3] = byte(dport)
	return frame
}
