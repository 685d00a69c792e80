// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package dimensions reads the externally produced dimension tables the core
// consumes: entity attributes, calendar date groups, seasons, and the
// versioned park hours table. Producers are out of scope; this package only
// parses their CSV outputs under dimension_tables/.
package dimensions
