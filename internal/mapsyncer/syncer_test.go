// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mapsyncer

import (
	"testing"

	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/rule"
)

type stubSource struct{ rules []rule.Rule }

func (s stubSource) GetAll() []rule.Rule { return s.rules }

func TestSyncProjectsInOrderSortedByOrderThenRuleID(t *testing.T) {
	rules := []rule.Rule{
		{RuleID: 5, Order: 1, Input: true, V4: true, Action: rule.ActionDrop},
		{RuleID: 1, Order: 0, Input: true, V4: true, Action: rule.ActionPass},
		{RuleID: 2, Order: 0, Input: true, V4: true, Action: rule.ActionPass},
	}
	table := kernelmaps.NewSimRuleTable(8)
	s := New(stubSource{rules}, table, nil)

	n, err := s.Sync()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rules projected, got %d", n)
	}

	first, ok := table.Get(0)
	if !ok || first.RuleID != 1 {
		t.Fatalf("expected rule 1 at index 0, got %+v ok=%v", first, ok)
	}
	second, ok := table.Get(1)
	if !ok || second.RuleID != 2 {
		t.Fatalf("expected rule 2 at index 1, got %+v ok=%v", second, ok)
	}
	third, ok := table.Get(2)
	if !ok || third.RuleID != 5 {
		t.Fatalf("expected rule 5 at index 2, got %+v ok=%v", third, ok)
	}
}

func TestSyncClearsStaleEntriesBeforeReinserting(t *testing.T) {
	table := kernelmaps.NewSimRuleTable(4)
	_ = table.Insert(3, rule.Rule{RuleID: 99, Enabled: true})

	s := New(stubSource{nil}, table, nil)
	if _, err := s.Sync(); err != nil {
		t.Fatal(err)
	}
	if _, ok := table.Get(3); ok {
		t.Fatal("expected stale entry at index 3 to be cleared")
	}
}

func TestSyncRejectsRulesetExceedingCapacity(t *testing.T) {
	table := kernelmaps.NewSimRuleTable(1)
	rules := []rule.Rule{
		{RuleID: 1, Input: true, V4: true, Action: rule.ActionPass},
		{RuleID: 2, Input: true, V4: true, Action: rule.ActionPass},
	}
	s := New(stubSource{rules}, table, nil)
	if _, err := s.Sync(); err == nil {
		t.Fatal("expected an error when ruleset exceeds table capacity")
	}
}
