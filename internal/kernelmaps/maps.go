// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernelmaps abstracts the kernel-visible maps of spec §4.3: the
// RULES table (dense index -> Rule, read by the evaluator, written by the
// map syncer) and the LOG_RING (an MPSC ring buffer written by the dispatch
// entry points and drained by the log collector).
//
// Like internal/kernel in the donor codebase, this package is split into a
// real Linux provider backed by github.com/cilium/ebpf, and an in-memory
// simulation provider used by tests and by any host that cannot load the
// in-kernel program. Callers depend only on the Maps interface.
package kernelmaps

import (
	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/rule"
)

// RuleTable is the read/write kernel-visible rule table (spec §3.3, §4.7).
// It satisfies evaluator.Table for the hot path and adds the write
// operations the map syncer (C7) needs.
type RuleTable interface {
	Get(i uint32) (rule.Rule, bool)
	Len() uint32

	// Clear removes every existing entry (spec §4.7 step 3).
	Clear() error
	// Insert writes r at dense index i (spec §4.7 step 4).
	Insert(i uint32, r rule.Rule) error
}

// LogRing is the MPSC ring buffer of spec §4.3/§4.9: dispatch reserves and
// submits records into it, the collector drains it.
type LogRing interface {
	// Emit reserves space and submits rec. Per spec §4.4, a reservation
	// failure is silently absorbed - it never alters a packet verdict and
	// is only reflected in DroppedCount.
	Emit(rec logrecord.LogRecord)
	// Records returns the channel the collector (C9) drains. Closed when
	// the ring is closed.
	Records() <-chan logrecord.LogRecord
	// DroppedCount returns the number of records dropped because the ring
	// (or its userspace channel) was full (spec §9).
	DroppedCount() uint64
	Close() error
}

// Maps is the process-wide singleton handle passed to every component that
// needs kernel-visible state (spec §9: "expose it through a single handle
// passed to tasks rather than as true process globals").
type Maps interface {
	Rules() RuleTable
	Log() LogRing
	Close() error
}
