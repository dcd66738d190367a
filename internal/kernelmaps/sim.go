// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernelmaps

import (
	"sync"
	"sync/atomic"

	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/rule"
)

// SimRuleTable is an in-memory RuleTable used by tests, by the replay tool,
// and on any host where the in-kernel program cannot be loaded. It has the
// exact same dense-index, first-match-wins semantics as the real map.
type SimRuleTable struct {
	mu      sync.RWMutex
	entries []rule.Rule
	present []bool
}

// NewSimRuleTable creates an empty table with capacity for n entries,
// mirroring the kernel map's static N_RULES capacity (spec §3.3).
func NewSimRuleTable(n uint32) *SimRuleTable {
	return &SimRuleTable{
		entries: make([]rule.Rule, n),
		present: make([]bool, n),
	}
}

func (t *SimRuleTable) Len() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint32(len(t.entries))
}

func (t *SimRuleTable) Get(i uint32) (rule.Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i >= uint32(len(t.entries)) || !t.present[i] {
		return rule.Rule{}, false
	}
	return t.entries[i], true
}

func (t *SimRuleTable) Insert(i uint32, r rule.Rule) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= uint32(len(t.entries)) {
		return errOutOfRange
	}
	t.entries[i] = r
	t.present[i] = true
	return nil
}

func (t *SimRuleTable) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.present {
		t.present[i] = false
		t.entries[i] = rule.Rule{}
	}
	return nil
}

type simError string

func (e simError) Error() string { return string(e) }

const errOutOfRange = simError("index out of range")

// SimLogRing is an in-memory LogRing backed by a buffered channel, the same
// drop-on-full discipline as the real ring buffer (spec §9).
type SimLogRing struct {
	records chan logrecord.LogRecord
	dropped atomic.Uint64
	closeMu sync.Mutex
	closed  bool
}

// NewSimLogRing creates a ring with the given channel capacity.
func NewSimLogRing(capacity int) *SimLogRing {
	return &SimLogRing{records: make(chan logrecord.LogRecord, capacity)}
}

func (l *SimLogRing) Emit(rec logrecord.LogRecord) {
	l.closeMu.Lock()
	closed := l.closed
	l.closeMu.Unlock()
	if closed {
		return
	}
	select {
	case l.records <- rec:
	default:
		l.dropped.Add(1)
	}
}

func (l *SimLogRing) Records() <-chan logrecord.LogRecord { return l.records }
func (l *SimLogRing) DroppedCount() uint64                { return l.dropped.Load() }

func (l *SimLogRing) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.records)
	return nil
}

// SimMaps is the in-memory Maps implementation.
type SimMaps struct {
	rules *SimRuleTable
	log   *SimLogRing
}

// NewSimMaps creates a Maps with a rule table of the given capacity and a
// log ring of the given buffered capacity.
func NewSimMaps(ruleCapacity uint32, logCapacity int) *SimMaps {
	return &SimMaps{
		rules: NewSimRuleTable(ruleCapacity),
		log:   NewSimLogRing(logCapacity),
	}
}

func (m *SimMaps) Rules() RuleTable { return m.rules }
func (m *SimMaps) Log() LogRing     { return m.log }
func (m *SimMaps) Close() error     { return m.log.Close() }
