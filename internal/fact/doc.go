// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package fact implements the canonical store: the partitioned CSV
// codec, the deduplicating writer that appends sorted rows per (park,
// park_date) partition, the selective per-entity loader, and the entity
// index rebuild scan.
//
// Write ordering per batch: dedup check, file append, entity index upsert,
// dedup commit. The processed-file catalog is updated by the caller only
// after the whole file's batches commit.
package fact
