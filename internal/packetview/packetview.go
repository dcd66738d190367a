// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packetview implements the header parser (spec §4.1): a zero-copy,
// bounds-checked walk of an Ethernet frame that produces a flat PacketView.
//
// This is the Go-side mirror of the in-kernel C parser described in spec
// §4.1 and §9 ("kernel-verifier constraints ... are behavioral requirements
// of the compiled artifact, not of the source language"): every access is
// bounds-checked before it happens, the function never allocates beyond the
// single returned value, and there is no recursion or unbounded loop. It is
// compiled both into the userspace reference evaluator (used by tests and
// the replay tool) and used as the ground
// truth the in-kernel classifier in internal/xdpprog/c is written against.
package packetview

import "fmt"

// Family is the IP version of a packet.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyV4
	FamilyV6
)

// Proto is the L4 protocol of a packet.
type Proto uint8

const (
	ProtoOther Proto = iota
	ProtoTCP
	ProtoUDP
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD

	ipProtoTCP = 6
	ipProtoUDP = 17

	ethHeaderLen  = 14
	ipv4MinLen    = 20
	ipv6HeaderLen = 40
	tcpMinLen     = 20
	udpLen        = 8
)

// PacketView is the transient, stack-bounded record built per dispatch call
// (spec §3.2).
type PacketView struct {
	Input   bool // true = ingress, false = egress
	Family  Family
	Proto   Proto
	SrcV4   [4]byte
	DstV4   [4]byte
	SrcV6   [16]byte
	DstV6   [16]byte
	SrcPort uint16
	DstPort uint16
	IfIndex uint32
}

// Truncated is returned whenever a bounds check fails.
type Truncated struct {
	Offset, Need, Have int
}

func (e *Truncated) Error() string {
	return fmt.Sprintf("truncated frame: need %d bytes at offset %d, have %d", e.Need, e.Offset, e.Have)
}

// NonIP is returned when the Ethernet payload is neither IPv4 nor IPv6.
// It is not an error condition for dispatch purposes (spec §4.4): ingress
// passes it, egress continues to the next hook.
type NonIP struct {
	EtherType uint16
}

func (e *NonIP) Error() string {
	return fmt.Sprintf("non-IP ethertype 0x%04x", e.EtherType)
}

// UnhandledProtocol is returned for IP payloads that are neither TCP nor UDP
// (spec §4.1, §4.4). It still carries enough of the packet for C4 to emit an
// ERROR log record.
type UnhandledProtocol struct {
	Proto   uint8
	Family  Family
	SrcV4   [4]byte
	DstV4   [4]byte
	SrcV6   [16]byte
	DstV6   [16]byte
	IfIndex uint32
	Input   bool
}

func (e *UnhandledProtocol) Error() string {
	return fmt.Sprintf("unhandled IP protocol %d", e.Proto)
}

// bounds is the single checkpoint every multi-byte read goes through -
// spec §4.1's "require data+o+s <= data_end, otherwise fail with Truncated".
func bounds(data []byte, offset, size int) error {
	if offset < 0 || size < 0 || offset+size > len(data) {
		return &Truncated{Offset: offset, Need: size, Have: len(data) - offset}
	}
	return nil
}

// Parse builds a PacketView from a raw Ethernet frame. ifindex is the
// current interface index and input selects ingress (true) vs egress
// (false) direction, per spec §4.1.
func Parse(data []byte, ifindex uint32, input bool) (PacketView, error) {
	var pv PacketView
	pv.Input = input
	pv.IfIndex = ifindex

	if err := bounds(data, 0, ethHeaderLen); err != nil {
		return pv, err
	}
	etherType := uint16(data[12])<<8 | uint16(data[13])

	switch etherType {
	case etherTypeIPv4:
		return parseIPv4(data, pv)
	case etherTypeIPv6:
		return parseIPv6(data, pv)
	default:
		return pv, &NonIP{EtherType: etherType}
	}
}

func parseIPv4(data []byte, pv PacketView) (PacketView, error) {
	if err := bounds(data, ethHeaderLen, ipv4MinLen); err != nil {
		return pv, err
	}
	ipStart := ethHeaderLen
	pv.Family = FamilyV4
	copy(pv.SrcV4[:], data[ipStart+12:ipStart+16])
	copy(pv.DstV4[:], data[ipStart+16:ipStart+20])

	ihl := int(data[ipStart]&0x0F) * 4
	if ihl < ipv4MinLen {
		ihl = ipv4MinLen
	}
	proto := data[ipStart+9]
	l4Start := ipStart + ihl

	return parseL4(data, l4Start, proto, pv)
}

func parseIPv6(data []byte, pv PacketView) (PacketView, error) {
	if err := bounds(data, ethHeaderLen, ipv6HeaderLen); err != nil {
		return pv, err
	}
	ipStart := ethHeaderLen
	pv.Family = FamilyV6
	copy(pv.SrcV6[:], data[ipStart+8:ipStart+24])
	copy(pv.DstV6[:], data[ipStart+24:ipStart+40])

	nextHeader := data[ipStart+6]
	l4Start := ipStart + ipv6HeaderLen

	return parseL4(data, l4Start, nextHeader, pv)
}

func parseL4(data []byte, l4Start int, proto uint8, pv PacketView) (PacketView, error) {
	switch proto {
	case ipProtoTCP:
		if err := bounds(data, l4Start, tcpMinLen); err != nil {
			return pv, err
		}
		pv.Proto = ProtoTCP
		pv.SrcPort = uint16(data[l4Start])<<8 | uint16(data[l4Start+1])
		pv.DstPort = uint16(data[l4Start+2])<<8 | uint16(data[l4Start+3])
		return pv, nil
	case ipProtoUDP:
		if err := bounds(data, l4Start, udpLen); err != nil {
			return pv, err
		}
		pv.Proto = ProtoUDP
		pv.SrcPort = uint16(data[l4Start])<<8 | uint16(data[l4Start+1])
		pv.DstPort = uint16(data[l4Start+2])<<8 | uint16(data[l4Start+3])
		return pv, nil
	default:
		return pv, &UnhandledProtocol{
			Proto:   proto,
			Family:  pv.Family,
			SrcV4:   pv.SrcV4,
			DstV4:   pv.DstV4,
			SrcV6:   pv.SrcV6,
			DstV6:   pv.DstV6,
			IfIndex: pv.IfIndex,
			Input:   pv.Input,
		}
	}
}
