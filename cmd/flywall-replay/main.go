// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flywall-replay drives the evaluator (internal/dispatch) over a
// PCAP capture instead of live traffic, so a rule set can be validated
// offline before it is ever loaded onto an interface.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcap"

	"grimm.is/flywall/internal/dispatch"
	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/logpipeline"
	"grimm.is/flywall/internal/logrecord"
	"grimm.is/flywall/internal/mapsyncer"
	"grimm.is/flywall/internal/ruleloader"
	"grimm.is/flywall/internal/rulestore"
)

func main() {
	pcapPath := flag.String("pcap", "", "PCAP file to replay")
	rulesDir := flag.String("rules", "", "directory of YAML rule files to evaluate against")
	ifindex := flag.Uint("ifindex", 1, "ifindex to attribute replayed packets to")
	direction := flag.String("direction", "ingress", "ingress | egress")
	flag.Parse()

	if *pcapPath == "" || *rulesDir == "" {
		fmt.Fprintln(os.Stderr, "usage: flywall-replay -pcap <file> -rules <dir>")
		os.Exit(2)
	}

	if err := run(*pcapPath, *rulesDir, uint32(*ifindex), *direction); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(pcapPath, rulesDir string, ifindex uint32, direction string) error {
	log := logging.Default().WithComponent("flywall-replay")

	yamlRules, err := ruleloader.LoadYAMLDir(rulesDir)
	if err != nil {
		return err
	}

	store := rulestore.New(nil)
	if err := store.ReplaceAll(yamlRules); err != nil {
		return err
	}

	table := kernelmaps.NewSimRuleTable(uint32(len(yamlRules)))
	syncer := mapsyncer.New(store, table, log)
	if _, err := syncer.Sync(); err != nil {
		return err
	}

	ring := kernelmaps.NewSimLogRing(4096)
	collector := logpipeline.New(ring, store, nil, noopFanout{}, log)
	go collector.Run()

	handle, err := pcap.OpenOffline(pcapPath)
	if err != nil {
		return fmt.Errorf("opening pcap %s: %w", pcapPath, err)
	}
	defer handle.Close()

	var passed, dropped int
	clock := monotonicClock()
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		frame := packet.Data()

		var verdict dispatch.Verdict
		if direction == "egress" {
			verdict = dispatch.Egress(frame, ifindex, table, ring, clock)
		} else {
			verdict = dispatch.Ingress(frame, ifindex, table, ring, clock)
		}

		if verdict == dispatch.VerdictDrop {
			dropped++
		} else {
			passed++
		}
	}

	ring.Close()
	fmt.Printf("replayed %s: %d passed, %d dropped (%d ring drops)\n", pcapPath, passed, dropped, ring.DroppedCount())
	return nil
}

// monotonicClock stands in for the kernel's bpf_ktime_get_ns() clock the
// real classifier uses (spec §4.4): replay has no live kernel clock to read.
func monotonicClock() dispatch.Clock {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

type noopFanout struct{}

func (noopFanout) Publish(rec logrecord.Serialized) {}
