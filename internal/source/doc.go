// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package source implements historical source ingest: listing and
// classifying source objects, streaming them in row chunks through the
// format-specific parsers, stamping park timezones, and driving the canonical
// writer with exactly-once file tracking.
//
// Three file formats exist in the wild. Standby files carry posted and actual
// columns and fan out to two canonical records per row. New fastpass files
// carry a return-window open time from which PRIORITY minutes are computed,
// with an encoded sold-out sentinel. Legacy fastpass files are headerless and
// positional, from a documented legacy year range.
package source
