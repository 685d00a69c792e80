// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package state is the single-node state store for the pipeline.
//
// Everything lives under one filesystem root with fixed sub-areas (fact,
// staging, state, models, aggregates, curves, reports, samples, logs). All
// mutations of small state files are atomic-by-replace: write to path.tmp,
// fsync, rename over path. The two heavyweight stores - the row dedup set and
// the per-entity index - are BadgerDB databases with a single writer at a
// time, protected by the pipeline lock.
//
// The package also provides the cross-process locks (pipeline and live
// poller) and the pipeline status record consumed read-only by the monitoring
// view.
package state
