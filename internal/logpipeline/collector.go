// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logpipeline implements the log collector (C9) and fan-out server
// (C10) of spec §4.9/§4.10: drain the kernel ring, enrich each record,
// format it for the local logger, optionally post it to a search index, and
// forward it to connected fan-out clients without ever blocking the drain.
package logpipeline

import (
	"fmt"
	"net"
	"strconv"

	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/rule"
)

// RuleLookup resolves a rule_id to its rule for enrichment (spec §4.9 step
// 2); rulestore.Store satisfies this directly.
type RuleLookup interface {
	GetByID(id uint32) (rule.Rule, bool)
}

// IndexPoster posts a single enriched record to the search index
// collaborator (spec §6.5); failures are logged and never back-pressure
// the pipeline. Nil disables indexing.
type IndexPoster interface {
	Post(rec logrecord.Serialized) error
}

// Fanout accepts an enriched record for delivery to connected log-tail
// clients (spec §4.10); Broadcaster in fanout.go satisfies this.
type Fanout interface {
	Publish(rec logrecord.Serialized)
}

// Metrics observes one decided verdict per record drained, for the ambient
// metrics endpoint; internal/metrics.Metrics satisfies this. Nil disables
// metrics entirely.
type Metrics interface {
	ObserveVerdict(direction, action string)
	IncIndexPostError()
}

// Collector drains a kernelmaps.LogRing, enriches each record, logs it
// locally, optionally indexes it, and forwards it to the fan-out server.
type Collector struct {
	ring    kernelmaps.LogRing
	rules   RuleLookup
	index   IndexPoster
	fanout  Fanout
	metrics Metrics
	log     *logging.Logger
}

// New creates a Collector. rules, index and fanout may be nil to disable
// their respective enrichment/delivery steps.
func New(ring kernelmaps.LogRing, rules RuleLookup, index IndexPoster, fanout Fanout, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.Default()
	}
	return &Collector{ring: ring, rules: rules, index: index, fanout: fanout, log: log.WithComponent("logpipeline")}
}

// WithMetrics attaches a Metrics observer, returning the Collector for
// chaining at construction time.
func (c *Collector) WithMetrics(m Metrics) *Collector {
	c.metrics = m
	return c
}

// Run drains the ring until it is closed, blocking the calling goroutine.
// Callers typically invoke this as `go collector.Run()`.
func (c *Collector) Run() {
	for rec := range c.ring.Records() {
		c.process(rec)
	}
}

func (c *Collector) process(rec logrecord.LogRecord) {
	serialized := c.enrich(rec)
	c.logLocally(serialized)

	if c.metrics != nil {
		c.metrics.ObserveVerdict(serialized.Direction, serialized.Action)
	}

	if c.index != nil {
		if err := c.index.Post(serialized); err != nil {
			c.log.Warn("failed to post log record to search index", "err", err)
			if c.metrics != nil {
				c.metrics.IncIndexPostError()
			}
		}
	}

	if c.fanout != nil {
		c.fanout.Publish(serialized)
	}
}

// enrich resolves ifindex -> name via the OS interface table and, if the
// record carries a rule_id, attaches the rule's name and action (spec
// §4.9 steps 1-2).
func (c *Collector) enrich(rec logrecord.LogRecord) logrecord.Serialized {
	s := logrecord.Serialized{
		Direction: rec.Direction.String(),
		Family:    rec.Family.String(),
		L4:        rec.L4.String(),
		SrcPort:   rec.SrcPort,
		DstPort:   rec.DstPort,
		RuleID:    rec.RuleID,
		IfName:    resolveIfName(rec.IfIndex),
		Severity:  rec.Severity.String(),
		Message:   rec.Message(),
		Timestamp: logrecord.Now().Unix(),
	}

	if rec.Family == logrecord.FamilyV4 {
		s.SrcV4 = net.IP(rec.SrcV4[:]).String()
		s.DstV4 = net.IP(rec.DstV4[:]).String()
	} else {
		s.SrcV6 = net.IP(rec.SrcV6[:]).String()
		s.DstV6 = net.IP(rec.DstV6[:]).String()
	}

	if rec.RuleID != 0 && c.rules != nil {
		if r, ok := c.rules.GetByID(rec.RuleID); ok {
			s.RuleName = r.Name
			s.Action = string(r.Action)
		}
	}

	return s
}

func resolveIfName(ifindex uint32) string {
	iface, err := net.InterfaceByIndex(int(ifindex))
	if err != nil {
		return strconv.FormatUint(uint64(ifindex), 10)
	}
	return iface.Name
}

func (c *Collector) logLocally(s logrecord.Serialized) {
	msg := fmt.Sprintf("%s %s %s rule=%s action=%s", s.Direction, s.Family, s.Message, s.RuleName, s.Action)
	switch s.Severity {
	case "debug":
		c.log.Debug(msg, "if", s.IfName, "rule_id", s.RuleID)
	case "warn":
		c.log.Warn(msg, "if", s.IfName, "rule_id", s.RuleID)
	case "error":
		c.log.Error(msg, "if", s.IfName, "rule_id", s.RuleID)
	default:
		c.log.Info(msg, "if", s.IfName, "rule_id", s.RuleID)
	}
}
