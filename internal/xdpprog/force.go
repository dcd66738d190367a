// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package xdpprog

import (
	"github.com/vishvananda/netlink"

	"grimm.is/flywall/internal/errors"
)

// ForceDetachXDP removes any pre-existing XDP program from iface before
// attaching the classifier (spec §6.1: "force mode... issues the OS command
// that tears down a pre-existing XDP attachment").
func ForceDetachXDP(iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return errors.Wrapf(err, errors.KindNotFound, "looking up interface %s for forced XDP detach", iface)
	}
	if err := netlink.LinkSetXdpFd(link, -1); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "detaching existing XDP program from %s", iface)
	}
	return nil
}

// ForceClsactQdisc installs a clsact qdisc on iface, creating the egress
// attach point TCX/BPF egress programs hook into (spec §6.1: "installs a
// clsact qdisc"). It is a no-op if one is already present.
func ForceClsactQdisc(iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return errors.Wrapf(err, errors.KindNotFound, "looking up interface %s for clsact qdisc", iface)
	}

	qdiscs, err := netlink.QdiscList(link)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "listing qdiscs on %s", iface)
	}
	for _, q := range qdiscs {
		if q.Type() == "clsact" {
			return nil
		}
	}

	clsact := &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Handle:    netlink.MakeHandle(0xffff, 0),
			Parent:    netlink.HANDLE_CLSACT,
		},
		QdiscType: "clsact",
	}
	if err := netlink.QdiscAdd(clsact); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "installing clsact qdisc on %s", iface)
	}
	return nil
}
