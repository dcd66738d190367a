// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernelmaps

import (
	"testing"

	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/rule"
)

func TestSimRuleTableInsertGet(t *testing.T) {
	table := NewSimRuleTable(4)
	r := rule.Rule{RuleID: 7, Action: rule.ActionDrop}
	if err := table.Insert(2, r); err != nil {
		t.Fatal(err)
	}
	got, ok := table.Get(2)
	if !ok || got.RuleID != 7 {
		t.Fatalf("expected rule 7 at index 2, got %+v ok=%v", got, ok)
	}
	if _, ok := table.Get(0); ok {
		t.Fatal("expected empty slot to report not-ok")
	}
}

func TestSimRuleTableClear(t *testing.T) {
	table := NewSimRuleTable(2)
	_ = table.Insert(0, rule.Rule{RuleID: 1})
	_ = table.Clear()
	if _, ok := table.Get(0); ok {
		t.Fatal("expected table to be empty after Clear")
	}
}

func TestSimLogRingDropsWhenFull(t *testing.T) {
	ring := NewSimLogRing(1)
	ring.Emit(logrecord.LogRecord{RuleID: 1})
	ring.Emit(logrecord.LogRecord{RuleID: 2}) // ring capacity 1, this should drop
	if ring.DroppedCount() != 1 {
		t.Fatalf("expected 1 dropped record, got %d", ring.DroppedCount())
	}
	rec := <-ring.Records()
	if rec.RuleID != 1 {
		t.Fatalf("expected first record to survive, got %+v", rec)
	}
}
