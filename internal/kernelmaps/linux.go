// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package kernelmaps

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/rule"
)

// wireRule is the fixed-size, naturally-aligned layout the RULES map stores
// per spec §3.3. Field order and sizes are shared with the C struct the
// in-kernel classifier reads (internal/xdpprog/c/classifier.c).
type wireRule struct {
	RuleID  uint32
	Order   int32
	IfIndex uint32

	Flags uint32 // bit0 enabled, bit1 input, bit2 output, bit3 v4, bit4 v6, bit5 tcp, bit6 udp
	Action uint32 // 0 continue, 1 pass, 2 drop

	SrcV4Addr [4]byte
	DstV4Addr [4]byte
	SrcV6Addr [16]byte
	DstV6Addr [16]byte

	SrcPrefixLen uint8
	DstPrefixLen uint8
	_            [6]byte // padding to keep the struct naturally aligned

	SrcPortStart uint16
	SrcPortEnd   uint16
	DstPortStart uint16
	DstPortEnd   uint16
}

const (
	flagEnabled = 1 << 0
	flagInput   = 1 << 1
	flagOutput  = 1 << 2
	flagV4      = 1 << 3
	flagV6      = 1 << 4
	flagTCP     = 1 << 5
	flagUDP     = 1 << 6
)

const (
	wireActionContinue uint32 = 0
	wireActionPass     uint32 = 1
	wireActionDrop     uint32 = 2
)

func toWire(r rule.Rule) wireRule {
	var flags uint32
	if r.Enabled {
		flags |= flagEnabled
	}
	if r.Input {
		flags |= flagInput
	}
	if r.Output {
		flags |= flagOutput
	}
	if r.V4 {
		flags |= flagV4
	}
	if r.V6 {
		flags |= flagV6
	}
	if r.TCP {
		flags |= flagTCP
	}
	if r.UDP {
		flags |= flagUDP
	}

	action := wireActionContinue
	switch r.Action {
	case rule.ActionPass:
		action = wireActionPass
	case rule.ActionDrop:
		action = wireActionDrop
	}

	return wireRule{
		RuleID:       r.RuleID,
		Order:        r.Order,
		IfIndex:      r.IfIndex,
		Flags:        flags,
		Action:       action,
		SrcV4Addr:    r.Source.V4Addr,
		DstV4Addr:    r.Destination.V4Addr,
		SrcV6Addr:    r.Source.V6Addr,
		DstV6Addr:    r.Destination.V6Addr,
		SrcPrefixLen: r.Source.PrefixLen,
		DstPrefixLen: r.Destination.PrefixLen,
		SrcPortStart: r.Source.Ports.Start,
		SrcPortEnd:   r.Source.Ports.End,
		DstPortStart: r.Destination.Ports.Start,
		DstPortEnd:   r.Destination.Ports.End,
	}
}

func fromWire(w wireRule) rule.Rule {
	action := rule.ActionContinue
	switch w.Action {
	case wireActionPass:
		action = rule.ActionPass
	case wireActionDrop:
		action = rule.ActionDrop
	}
	return rule.Rule{
		RuleID:  w.RuleID,
		Order:   w.Order,
		IfIndex: w.IfIndex,
		Enabled: w.Flags&flagEnabled != 0,
		Input:   w.Flags&flagInput != 0,
		Output:  w.Flags&flagOutput != 0,
		V4:      w.Flags&flagV4 != 0,
		V6:      w.Flags&flagV6 != 0,
		TCP:     w.Flags&flagTCP != 0,
		UDP:     w.Flags&flagUDP != 0,
		Action:  action,
		Source: rule.Half{
			V4Addr: w.SrcV4Addr, V6Addr: w.SrcV6Addr, PrefixLen: w.SrcPrefixLen,
			Ports: rule.PortRange{Start: w.SrcPortStart, End: w.SrcPortEnd},
		},
		Destination: rule.Half{
			V4Addr: w.DstV4Addr, V6Addr: w.DstV6Addr, PrefixLen: w.DstPrefixLen,
			Ports: rule.PortRange{Start: w.DstPortStart, End: w.DstPortEnd},
		},
	}
}

// linuxRuleTable projects RuleTable onto a real cilium/ebpf array map.
type linuxRuleTable struct {
	m *ebpf.Map
}

// NewLinuxRuleTable wraps an already-loaded RULES map (see
// internal/xdpprog.Loader.Maps).
func NewLinuxRuleTable(m *ebpf.Map) RuleTable {
	return &linuxRuleTable{m: m}
}

func (t *linuxRuleTable) Len() uint32 {
	info, err := t.m.Info()
	if err != nil {
		return 0
	}
	return info.MaxEntries
}

func (t *linuxRuleTable) Get(i uint32) (rule.Rule, bool) {
	var w wireRule
	if err := t.m.Lookup(i, &w); err != nil {
		return rule.Rule{}, false
	}
	if w.RuleID == 0 {
		return rule.Rule{}, false
	}
	return fromWire(w), true
}

func (t *linuxRuleTable) Insert(i uint32, r rule.Rule) error {
	w := toWire(r)
	return t.m.Put(i, w)
}

func (t *linuxRuleTable) Clear() error {
	info, err := t.m.Info()
	if err != nil {
		return err
	}
	var zero wireRule
	for i := uint32(0); i < info.MaxEntries; i++ {
		if err := t.m.Put(i, zero); err != nil {
			return fmt.Errorf("clearing rule table entry %d: %w", i, err)
		}
	}
	return nil
}

// linuxLogRing drains an eBPF ring buffer map into a Go channel.
type linuxLogRing struct {
	reader  *ringbuf.Reader
	records chan logrecord.LogRecord
	dropped atomic.Uint64
	closeMu sync.Mutex
	closed  bool
}

// NewLinuxLogRing wraps an already-loaded LOG_RING ringbuf map and starts
// draining it into a buffered channel.
func NewLinuxLogRing(m *ebpf.Map) (LogRing, error) {
	reader, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("opening ring buffer reader: %w", err)
	}
	lr := &linuxLogRing{
		reader:  reader,
		records: make(chan logrecord.LogRecord, 4096),
	}
	go lr.drain()
	return lr, nil
}

func (l *linuxLogRing) drain() {
	for {
		rec, err := l.reader.Read()
		if err != nil {
			close(l.records)
			return
		}
		lr, ok := decodeWireRecord(rec.RawSample)
		if !ok {
			l.dropped.Add(1)
			continue
		}
		select {
		case l.records <- lr:
		default:
			l.dropped.Add(1)
		}
	}
}

func decodeWireRecord(raw []byte) (logrecord.LogRecord, bool) {
	var lr logrecord.LogRecord
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &lr); err != nil {
		return lr, false
	}
	return lr, true
}

// Emit is a no-op on the real provider: records only ever flow from the
// kernel program into the ring, never from userspace. It exists so tests
// can substitute a SimLogRing without a type switch.
func (l *linuxLogRing) Emit(logrecord.LogRecord) {}

func (l *linuxLogRing) Records() <-chan logrecord.LogRecord { return l.records }
func (l *linuxLogRing) DroppedCount() uint64                { return l.dropped.Load() }

func (l *linuxLogRing) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.reader.Close()
}
