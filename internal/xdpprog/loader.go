// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package xdpprog loads and attaches the compiled classifier (spec §6.1):
// flywall_ingress as an XDP program, flywall_egress as a TCX program. Both
// share the rules and log_ring maps this package hands back as
// internal/kernelmaps.Maps.
package xdpprog

import (
	"fmt"
	"net"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"grimm.is/flywall/internal/host"
	"grimm.is/flywall/internal/kernelmaps"
)

// Loader attaches the classifier to a network interface and exposes its
// maps. Its lifecycle is: load once, attach, and Close tears everything
// down in reverse order. It handles the single collection this module
// ships.
type Loader struct {
	mu      sync.Mutex
	objs    ClassifierObjects
	links   []link.Link
	loaded  bool
	ifindex int
}

// NewLoader verifies kernel support and loads the classifier's compiled
// program and map objects without attaching them yet.
func NewLoader() (*Loader, error) {
	if err := VerifyKernelSupport(); err != nil {
		return nil, err
	}

	var objs ClassifierObjects
	if err := LoadClassifierObjects(&objs, nil); err != nil {
		return nil, fmt.Errorf("loading classifier objects: %w", err)
	}

	return &Loader{objs: objs, loaded: true}, nil
}

// VerifyKernelSupport delegates to internal/host's BPF support checks
// (JIT availability, JIT enablement and limit, available memory) before
// attempting to load.
func VerifyKernelSupport() error {
	issues := host.VerifyBPFSupport()
	for _, issue := range issues {
		if issue.Fatal {
			return fmt.Errorf("kernel support verification failed: %s", issue.Message)
		}
	}
	return nil
}

// Attach attaches both hooks to the named interface (spec §6.1): XDP on
// ingress, TCX on egress.
func (l *Loader) Attach(iface string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return fmt.Errorf("classifier objects not loaded")
	}

	ifaceObj, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("finding interface %s: %w", iface, err)
	}
	l.ifindex = ifaceObj.Index

	xdpLink, err := link.AttachXDP(link.XDPOptions{
		Program:   l.objs.FlywallIngress,
		Interface: ifaceObj.Index,
	})
	if err != nil {
		return fmt.Errorf("attaching XDP ingress program to %s: %w", iface, err)
	}
	l.links = append(l.links, xdpLink)

	tcLink, err := link.AttachTCX(link.TCXOptions{
		Program:   l.objs.FlywallEgress,
		Interface: ifaceObj.Index,
		Attach:    ebpf.AttachTCXEgress,
	})
	if err != nil {
		xdpLink.Close()
		l.links = l.links[:len(l.links)-1]
		return fmt.Errorf("attaching TCX egress program to %s: %w", iface, err)
	}
	l.links = append(l.links, tcLink)

	return nil
}

// Maps returns the rules/log_ring maps wrapped as kernelmaps.Maps.
func (l *Loader) Maps() (kernelmaps.Maps, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return nil, fmt.Errorf("classifier objects not loaded")
	}
	return kernelmaps.NewLinuxMaps(l.objs.Rules, l.objs.LogRing)
}

// IfIndex returns the interface index the classifier is attached to, or 0
// if Attach has not been called yet.
func (l *Loader) IfIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ifindex
}

// Close detaches both hooks and unloads the program/map objects, in reverse
// order of attachment.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for i := len(l.links) - 1; i >= 0; i-- {
		if err := l.links[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.links = nil

	if l.loaded {
		if err := l.objs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.loaded = false
	}
	return firstErr
}
