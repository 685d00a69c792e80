// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package staging implements the live side of the pipeline: the long-running
// queue-times poller that writes observations into staging/live, and the
// morning merge that folds yesterday's staged rows into the canonical
// store at the start of each pipeline run.
//
// The poller never writes into fact/. The only pathway from staging to fact
// is the morning merge.
package staging
