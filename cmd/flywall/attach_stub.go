// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package main

import (
	"grimm.is/flywall/internal/config"
	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/kernelmaps"
	"grimm.is/flywall/internal/logging"
)

// attach has no in-kernel classifier to load on a non-Linux host; it
// returns an in-memory Maps so the control plane and log pipeline can still
// be exercised, as internal/kernelmaps.SimMaps already does for tests.
func attach(cfg *config.Config, forceInput, forceOutput bool, log *logging.Logger) (kernelmaps.Maps, func(), error) {
	if forceInput || forceOutput {
		return nil, nil, errors.New(errors.KindUnavailable, "force-input/force-output require Linux")
	}
	log.Warn("running without an in-kernel classifier: this platform cannot attach XDP/TC hooks")
	maps := kernelmaps.NewSimMaps(4096, 4096)
	return maps, func() { maps.Close() }, nil
}
