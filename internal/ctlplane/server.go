// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlplane

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"sync"

	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/mapsyncer"
	"grimm.is/flywall/internal/rule"
	"grimm.is/flywall/internal/ruleloader"
	"grimm.is/flywall/internal/rulestore"
)

// Persister is the subset of *ruleloader.DB the control endpoint needs to
// assign and persist a freshly created rule; nil when no persistent store
// is configured (spec §4.8 CreateRule becomes in-memory-only).
type Persister interface {
	InsertNew(r rule.Rule) (uint32, error)
}

// Server is the control endpoint (spec §4.8): it owns the rule store, the
// YAML directory path for Reload, an optional persistent store, and the
// syncer that projects changes onto the kernel rule table.
type Server struct {
	socketPath string
	mode       fs.FileMode

	store   *rulestore.Store
	yamlDir string
	db      Persister
	syncer  *mapsyncer.Syncer

	log *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithMode sets the socket file mode after bind (spec §4.8: "ownership and
// permissions on the socket path are set ... after bind").
func WithMode(mode fs.FileMode) Option {
	return func(s *Server) { s.mode = mode }
}

// WithPersistentStore wires the SQLite-equivalent rule store in for
// CreateRule id assignment and for loading persisted rules on Reload.
// Persistence of changed rules goes through the rule store's own Persister.
func WithPersistentStore(db Persister) Option {
	return func(s *Server) { s.db = db }
}

// New creates a Server bound to socketPath, serving store, reloading rules
// from yamlDir, and projecting changes via syncer.
func New(socketPath, yamlDir string, store *rulestore.Store, syncer *mapsyncer.Syncer, log *logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Default()
	}
	s := &Server{
		socketPath: socketPath,
		mode:       0660,
		store:      store,
		yamlDir:    yamlDir,
		syncer:     syncer,
		log:        log.WithComponent("ctlplane"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the control socket and begins accepting connections in the
// background. It removes any stale socket file left behind by a previous
// run (spec §5: "graceful shutdown removes the local socket files").
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "listening on control socket %s", s.socketPath)
	}
	if err := os.Chmod(s.socketPath, s.mode); err != nil {
		listener.Close()
		return errors.Wrapf(err, errors.KindUnavailable, "setting control socket permissions on %s", s.socketPath)
	}

	return s.serve(listener)
}

func (s *Server) serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("control endpoint listening", "socket", s.socketPath)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.Warn("control socket accept error", "err", err)
				return
			}
			go s.handle(conn)
		}
	}()

	return nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.Remove(s.socketPath)
	s.listener = nil
	return err
}

// handle services exactly one request then closes the connection (spec
// §4.8/§6.2: "one request, one reply, then close"). A panic in a single
// handler never brings down the accept loop.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("control connection handler panicked", "recovered", r)
		}
	}()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decoding request: %w", err))
		return
	}

	reply, err := s.dispatch(req)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		s.log.Warn("failed to write control reply", "err", err)
	}
}

func (s *Server) writeError(conn net.Conn, err error) {
	s.log.Warn("control request failed", "err", err)
	_ = json.NewEncoder(conn).Encode(err.Error())
}

func (s *Server) dispatch(req Request) (any, error) {
	switch req.Action {
	case ActionReload:
		return s.handleReload()
	case ActionGetRules:
		return s.ruleSet(), nil
	case ActionUpdateRule:
		return s.handleUpdateRule(req.Rule)
	case ActionCreateRule:
		return s.handleCreateRule(req.Rule)
	default:
		return nil, errors.Errorf(errors.KindValidation, "unknown action %q", req.Action)
	}
}

// handleReload re-ingests the YAML directory (and persistent store, if
// configured) and re-syncs the kernel table (spec §4.8 Reload). A parse
// failure leaves the previous ruleset in effect (spec §7.3).
func (s *Server) handleReload() (string, error) {
	yamlRules, err := ruleloader.LoadYAMLDir(s.yamlDir)
	if err != nil {
		return "", errors.Wrapf(err, errors.KindValidation, "reload: loading rule directory %s", s.yamlDir)
	}

	all := yamlRules
	if loader, ok := s.db.(interface{ LoadAll() ([]rule.Rule, error) }); ok && loader != nil {
		dbRules, err := loader.LoadAll()
		if err != nil {
			return "", errors.Wrap(err, errors.KindUnavailable, "reload: loading persistent store")
		}
		all = append(all, dbRules...)
	}

	if err := s.store.ReplaceAll(all); err != nil {
		return "", errors.Wrap(err, errors.KindValidation, "reload: replacing rule set")
	}
	if _, err := s.syncer.Sync(); err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "reload: syncing kernel rule table")
	}

	s.log.Info("reload complete", "rule_count", len(all))
	return "Reload signal sent", nil
}

func (s *Server) handleUpdateRule(r rule.Rule) (RuleSet, error) {
	if err := s.store.Change(r); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "updating rule")
	}
	if _, err := s.syncer.Sync(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "syncing kernel rule table after update")
	}
	return s.ruleSet(), nil
}

// handleCreateRule persists the new rule (if a persistent store is
// configured), assigns its id, stores it, and re-syncs (spec §4.8
// CreateRule). Per the open question in spec §9, a persist failure is
// surfaced here rather than silently swallowed.
func (s *Server) handleCreateRule(r rule.Rule) (RuleSet, error) {
	if s.db != nil {
		id, err := s.db.InsertNew(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindUnavailable, "persisting new rule")
		}
		r.RuleID = id
		r.FromDB = true
	} else if r.RuleID == 0 {
		id, err := ruleloader.RandomRuleID()
		if err != nil {
			return nil, err
		}
		r.RuleID = id
	}

	if err := s.store.Set(r); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "creating rule")
	}
	if _, err := s.syncer.Sync(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "syncing kernel rule table after create")
	}
	return s.ruleSet(), nil
}

func (s *Server) ruleSet() RuleSet {
	all := s.store.GetAll()
	out := make(RuleSet, len(all))
	for _, r := range all {
		out[strconv.FormatUint(uint64(r.RuleID), 10)] = r
	}
	return out
}
