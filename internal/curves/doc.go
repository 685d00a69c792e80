// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package curves generates the fixed 5-minute-resolution outputs of the
// modeling engine: forward-looking forecast curves, historical backfill
// curves, and the daily Wait Time Index.
//
// Every output spans a park's operating window for the date. A slot is
// excluded from the WTI only when its actual value is null (entity closed or
// no prediction available).
package curves
