// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mapsyncer projects the rule store onto the kernel-visible rule
// table (spec §4.7): sort, clear, reinsert. The evaluator may observe an
// incomplete table mid-sync; that is acceptable because the default action
// is PASS/CONTINUE, never the reverse.
package mapsyncer

import (
	"sort"

	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/rule"
)

// RuleSource supplies the rules to project; rulestore.Store satisfies this.
type RuleSource interface {
	GetAll() []rule.Rule
}

// Syncer projects a RuleSource onto a kernelmaps.RuleTable.
type Syncer struct {
	source RuleSource
	table  kernelmaps.RuleTable
	log    *logging.Logger
}

// New creates a Syncer that projects source onto table.
func New(source RuleSource, table kernelmaps.RuleTable, log *logging.Logger) *Syncer {
	if log == nil {
		log = logging.Default()
	}
	return &Syncer{source: source, table: table, log: log.WithComponent("mapsyncer")}
}

// Sync performs the three-step projection of spec §4.7: sort by
// (order, rule_id), clear every existing key, insert each rule at its new
// dense index. It returns the number of rules projected.
func (s *Syncer) Sync() (int, error) {
	rules := s.source.GetAll()
	sort.Slice(rules, func(i, j int) bool { return rule.Less(rules[i], rules[j]) })

	capacity := s.table.Len()
	if uint32(len(rules)) > capacity {
		return 0, errors.Errorf(errors.KindValidation,
			"rule set of %d exceeds table capacity %d", len(rules), capacity)
	}

	if err := s.table.Clear(); err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "clearing rule table")
	}

	for i, r := range rules {
		if err := s.table.Insert(uint32(i), r); err != nil {
			s.log.Error("failed to insert rule into kernel table", "rule_id", r.RuleID, "index", i, "err", err)
			return i, errors.Wrapf(err, errors.KindInternal, "inserting rule %d at index %d", r.RuleID, i)
		}
	}

	s.log.Info("projected rules onto kernel rule table", "count", len(rules))
	return len(rules), nil
}
