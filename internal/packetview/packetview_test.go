// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package packetview

import (
	"net"
	"testing"
)

func buildEthIPv4TCP(src, dst string, sport, dport uint16) []byte {
	frame := make([]byte, ethHeaderLen+ipv4MinLen+tcpMinLen)
	frame[12] = 0x08
	frame[13] = 0x00

	ipStart := ethHeaderLen
	frame[ipStart] = 0x45 // version 4, IHL 5
	copy(frame[ipStart+12:ipStart+16], net.ParseIP(src).To4())
	copy(frame[ipStart+16:ipStart+20], net.ParseIP(dst).To4())
	frame[ipStart+9] = ipProtoTCP

	l4 := ipStart + ipv4MinLen
	frame[l4] = byte(sport >> 8)
	frame[l4+1] = byte(sport)
	frame[l4+2] = byte(dport >> 8)
	frame[l4+3] = byte(dport)
	return frame
}

func buildEthIPv6UDP(src, dst string, sport, dport uint16) []byte {
	frame := make([]byte, ethHeaderLen+ipv6HeaderLen+udpLen)
	frame[12] = 0x86
	frame[13] = 0xDD

	ipStart := ethHeaderLen
	frame[ipStart+6] = ipProtoUDP
	copy(frame[ipStart+8:ipStart+24], net.ParseIP(src).To16())
	copy(frame[ipStart+24:ipStart+40], net.ParseIP(dst).To16())

	l4 := ipStart + ipv6HeaderLen
	frame[l4] = byte(sport >> 8)
	frame[l4+1] = byte(sport)
	frame[l4+2] = byte(dport >> 8)
	frame[l4+3] = byte(dport)
	return frame
}

func TestParseIPv4TCP(t *testing.T) {
	frame := buildEthIPv4TCP("10.1.2.3", "192.168.1.1", 55555, 22)
	pv, err := Parse(frame, 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pv.Family != FamilyV4 || pv.Proto != ProtoTCP {
		t.Fatalf("unexpected family/proto: %+v", pv)
	}
	if pv.SrcPort != 55555 || pv.DstPort != 22 {
		t.Fatalf("unexpected ports: %+v", pv)
	}
	if pv.SrcV4 != [4]byte{10, 1, 2, 3} {
		t.Fatalf("unexpected src addr: %v", pv.SrcV4)
	}
}

func TestParseIPv6UDP(t *testing.T) {
	frame := buildEthIPv6UDP("2001:db8::1", "2001:db8::2", 12345, 53)
	pv, err := Parse(frame, 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pv.Family != FamilyV6 || pv.Proto != ProtoUDP {
		t.Fatalf("unexpected family/proto: %+v", pv)
	}
	if pv.DstPort != 53 {
		t.Fatalf("unexpected dst port: %d", pv.DstPort)
	}
}

func TestParseTruncated(t *testing.T) {
	frame := make([]byte, 10)
	if _, err := Parse(frame, 1, true); err == nil {
		t.Fatal("expected truncated error")
	} else if _, ok := err.(*Truncated); !ok {
		t.Fatalf("expected *Truncated, got %T", err)
	}
}

func TestParseNonIP(t *testing.T) {
	frame := make([]byte, ethHeaderLen)
	frame[12] = 0x08
	frame[13] = 0x06 // ARP
	_, err := Parse(frame, 1, true)
	var nonIP *NonIP
	if err == nil {
		t.Fatal("expected NonIP error")
	}
	if _, ok := err.(*NonIP); !ok {
		t.Fatalf("expected *NonIP, got %T", err)
	}
	_ = nonIP
}

func TestParseUnhandledProtocol(t *testing.T) {
	frame := make([]byte, ethHeaderLen+ipv4MinLen)
	frame[12] = 0x08
	frame[13] = 0x00
	frame[ethHeaderLen] = 0x45
	frame[ethHeaderLen+9] = 1 // ICMP
	copy(frame[ethHeaderLen+12:ethHeaderLen+16], net.ParseIP("10.0.0.1").To4())
	copy(frame[ethHeaderLen+16:ethHeaderLen+20], net.ParseIP("10.0.0.2").To4())

	_, err := Parse(frame, 1, true)
	up, ok := err.(*UnhandledProtocol)
	if !ok {
		t.Fatalf("expected *UnhandledProtocol, got %T (%v)", err, err)
	}
	if up.Proto != 1 {
		t.Fatalf("expected proto 1 (ICMP), got %d", up.Proto)
	}
}
