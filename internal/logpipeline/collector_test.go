// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logpipeline

import (
	"testing"

	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/rule"
)

type stubRuleLookup map[uint32]rule.Rule

func (s stubRuleLookup) GetByID(id uint32) (rule.Rule, bool) {
	r, ok := s[id]
	return r, ok
}

type stubFanout struct{ published []logrecord.Serialized }

func (f *stubFanout) Publish(rec logrecord.Serialized) { f.published = append(f.published, rec) }

type stubIndex struct {
	posted []logrecord.Serialized
	err    error
}

func (s *stubIndex) Post(rec logrecord.Serialized) error {
	s.posted = append(s.posted, rec)
	return s.err
}

func TestCollectorEnrichesWithRuleNameAndForwardsToFanout(t *testing.T) {
	ring := kernelmaps.NewSimLogRing(4)
	rules := stubRuleLookup{7: rule.Rule{Name: "block-telnet", Action: rule.ActionDrop}}
	fanout := &stubFanout{}
	index := &stubIndex{}

	c := New(ring, rules, index, fanout, nil)

	rec := logrecord.LogRecord{RuleID: 7, Family: logrecord.FamilyV4, Severity: logrecord.SeverityWarn}
	rec.SetMessage("BAN")
	ring.Emit(rec)
	ring.Close()

	c.Run()

	if len(fanout.published) != 1 {
		t.Fatalf("expected 1 published record, got %d", len(fanout.published))
	}
	got := fanout.published[0]
	if got.RuleName != "block-telnet" || got.Action != "drop" {
		t.Fatalf("expected enrichment with rule name/action, got %+v", got)
	}
	if len(index.posted) != 1 {
		t.Fatalf("expected 1 record posted to search index, got %d", len(index.posted))
	}
}

func TestCollectorWithoutRuleIDSkipsEnrichment(t *testing.T) {
	ring := kernelmaps.NewSimLogRing(4)
	fanout := &stubFanout{}
	c := New(ring, nil, nil, fanout, nil)

	rec := logrecord.LogRecord{Family: logrecord.FamilyV6, Severity: logrecord.SeverityDebug}
	rec.SetMessage("DEFAULT")
	ring.Emit(rec)
	ring.Close()

	c.Run()

	if fanout.published[0].RuleName != "" {
		t.Fatalf("expected no rule name for rule_id=0, got %q", fanout.published[0].RuleName)
	}
}
