// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package main

import (
	"grimm.is/flywall/internal/config"
	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/xdpprog"
)

// attach loads the classifier once and attaches it to every configured
// interface (spec §6.1, §6.6), honoring the --force-input/--force-output
// flags before each attach.
func attach(cfg *config.Config, forceInput, forceOutput bool, log *logging.Logger) (kernelmaps.Maps, func(), error) {
	loader, err := xdpprog.NewLoader()
	if err != nil {
		return nil, nil, err
	}

	for _, iface := range cfg.Interfaces {
		if forceInput {
			if err := xdpprog.ForceDetachXDP(iface); err != nil {
				loader.Close()
				return nil, nil, err
			}
		}
		if forceOutput {
			if err := xdpprog.ForceClsactQdisc(iface); err != nil {
				loader.Close()
				return nil, nil, err
			}
		}
		if err := loader.Attach(iface); err != nil {
			loader.Close()
			return nil, nil, err
		}
		log.Info("attached classifier", "interface", iface)
	}

	maps, err := loader.Maps()
	if err != nil {
		loader.Close()
		return nil, nil, err
	}

	return maps, func() { loader.Close() }, nil
}
