// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rulestore holds the authoritative, ordered rule set in userspace
// (spec §4.5): rule_id -> Rule, with a name -> rule_id projection, guarded by
// a reader-preferred lock since writes (reload, update, create) are cold and
// reads (every control request, every map sync) are frequent.
package rulestore

import (
	"sync"

	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/rule"
)

// Persister re-persists a changed rule to the backing store (spec §4.5
// change()); Change is its only caller. The rule loader implements
// this for the SQLite-backed store; tests may stub it.
type Persister interface {
	Persist(r rule.Rule) error
}

// Store is the process-wide rule set handle (spec §9: "a single handle
// passed to tasks rather than as true process globals").
type Store struct {
	mu        sync.RWMutex
	rules     map[uint32]rule.Rule
	byName    map[string]uint32
	persister Persister
}

// New creates an empty store. persister may be nil if no persistent store
// is configured; Change then degrades to an in-memory overwrite only.
func New(persister Persister) *Store {
	return &Store{
		rules:     make(map[uint32]rule.Rule),
		byName:    make(map[string]uint32),
		persister: persister,
	}
}

// Set overwrites the rule by rule_id (spec §4.5 set()). The control plane's
// CreateRule uses it; the reload path replaces the whole table under a
// single write lock via ReplaceAll instead.
func (s *Store) Set(r rule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(r)
	return nil
}

func (s *Store) setLocked(r rule.Rule) {
	if old, ok := s.rules[r.RuleID]; ok && old.Name != r.Name {
		delete(s.byName, old.Name)
	}
	s.rules[r.RuleID] = r
	if r.Name != "" {
		s.byName[r.Name] = r.RuleID
	}
}

// Change persists the rule first if it came from the persistent store, then
// overwrites (spec §4.5 change()). A rule not tagged FromDB is overwritten
// in memory only.
func (s *Store) Change(r rule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.FromDB && s.persister != nil {
		if err := s.persister.Persist(r); err != nil {
			return errors.Wrap(err, errors.KindInternal, "persisting rule change")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(r)
	return nil
}

// ReplaceAll atomically swaps the entire rule set, used by the reload path.
// The new set replaces the old one as given: YAML-sourced rules receive
// fresh random ids on every load, so their ids differ between two
// consecutive reloads.
func (s *Store) ReplaceAll(rules []rule.Rule) error {
	rulesByID := make(map[uint32]rule.Rule, len(rules))
	names := make(map[string]uint32, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		rulesByID[r.RuleID] = r
		if r.Name != "" {
			names[r.Name] = r.RuleID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rulesByID
	s.byName = names
	return nil
}

// GetByID returns the rule with the given id (spec §4.5 get_by_id()).
func (s *Store) GetByID(id uint32) (rule.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	return r, ok
}

// GetByName returns the rule_id associated with a name, if any.
func (s *Store) GetByName(name string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	return id, ok
}

// GetAll returns every rule (spec §4.5 get_all()), unordered; callers that
// need sort order (e.g. the map syncer) sort via rule.Less themselves.
func (s *Store) GetAll() []rule.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// Len returns the number of rules currently held (spec §4.5 len()).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
