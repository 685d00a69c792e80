// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import "sync"

var (
	trainerMu      sync.RWMutex
	defaultTrainer RegressorTrainer
)

// RegisterTrainer installs the process-wide boosted-tree trainer. A concrete
// library binding registers itself from an init function, typically behind a
// build tag, keeping the core free of the ML dependency.
func RegisterTrainer(t RegressorTrainer) {
	trainerMu.Lock()
	defer trainerMu.Unlock()
	defaultTrainer = t
}

// DefaultTrainer returns the registered trainer, or nil when the binary was
// built without one. Without a trainer every entity records a mean model.
func DefaultTrainer() RegressorTrainer {
	trainerMu.RLock()
	defer trainerMu.RUnlock()
	return defaultTrainer
}
