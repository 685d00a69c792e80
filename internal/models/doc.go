// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package models defines the canonical data model shared across the pipeline:
// the four-field wait time observation, the wait time type enumeration, park
// code derivation from entity prefixes, and the 6 AM operational-date rule.
//
// Every fact row in the canonical store is an Observation. Park code and
// operational date are always derived, never stored inline.
package models
