// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves the directory structure under the shared output root. It is
// a plain value; constructing one does not touch the filesystem.
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// FactDir is the canonical fact store: fact/clean/YYYY-MM/{park}_{date}.csv.
func (l Layout) FactDir() string { return filepath.Join(l.Root, "fact", "clean") }

// StagingDir holds live-poller output: staging/live/YYYY-MM/{park}_{date}.csv.
func (l Layout) StagingDir() string { return filepath.Join(l.Root, "staging", "live") }

// StateDir holds locks, catalogs, the dedup set and entity index.
func (l Layout) StateDir() string { return filepath.Join(l.Root, "state") }

// ModelsDir holds per-entity model directories.
func (l Layout) ModelsDir() string { return filepath.Join(l.Root, "models") }

// ModelDir is the artifact directory for one entity.
func (l Layout) ModelDir(entityCode string) string {
	return filepath.Join(l.ModelsDir(), entityCode)
}

// AggregatesDir holds columnar aggregate outputs.
func (l Layout) AggregatesDir() string { return filepath.Join(l.Root, "aggregates") }

// PostedAggregatesPath is the posted-aggregates parquet file.
func (l Layout) PostedAggregatesPath() string {
	return filepath.Join(l.AggregatesDir(), "posted_aggregates.parquet")
}

// CurvesDir holds forecast and backfill curve CSVs.
func (l Layout) CurvesDir(kind string) string { return filepath.Join(l.Root, "curves", kind) }

// CurvePath names one curve file: curves/{kind}/{entity}_{park_date}.csv.
func (l Layout) CurvePath(kind, entityCode, parkDate string) string {
	return filepath.Join(l.CurvesDir(kind), fmt.Sprintf("%s_%s.csv", entityCode, parkDate))
}

// WTIDir holds the wait time index output.
func (l Layout) WTIDir() string { return filepath.Join(l.Root, "wti") }

// ReportsDir holds generated reports (unmapped live rides, validation).
func (l Layout) ReportsDir() string { return filepath.Join(l.Root, "reports") }

// SamplesDir holds the reservoir sample for a calendar month.
func (l Layout) SamplesDir(yearMonth string) string {
	return filepath.Join(l.Root, "samples", yearMonth)
}

// LogsDir holds per-run log files.
func (l Layout) LogsDir() string { return filepath.Join(l.Root, "logs") }

// DimensionsDir holds externally produced dimension CSVs.
func (l Layout) DimensionsDir() string { return filepath.Join(l.Root, "dimension_tables") }

// PipelineLockPath guards the daily ingest/merge/modeling run.
func (l Layout) PipelineLockPath() string { return filepath.Join(l.StateDir(), "pipeline.lock") }

// PollerLockPath guards the live queue-times poller.
func (l Layout) PollerLockPath() string { return filepath.Join(l.StateDir(), "queue_times.lock") }

// ProcessedFilesPath is the processed-file catalog JSON.
func (l Layout) ProcessedFilesPath() string {
	return filepath.Join(l.StateDir(), "processed_files.json")
}

// FailedFilesPath is the failure tally JSON.
func (l Layout) FailedFilesPath() string { return filepath.Join(l.StateDir(), "failed_files.json") }

// StatusPath is the shared pipeline status record.
func (l Layout) StatusPath() string { return filepath.Join(l.StateDir(), "pipeline_status.json") }

// EncodingMappingsPath is the persistent categorical label map.
func (l Layout) EncodingMappingsPath() string {
	return filepath.Join(l.StateDir(), "encoding_mappings.json")
}

// DedupDBDir is the canonical row dedup set.
func (l Layout) DedupDBDir() string { return filepath.Join(l.StateDir(), "dedup.badger") }

// LiveDedupDBDir is the poller-scoped dedup set.
func (l Layout) LiveDedupDBDir() string {
	return filepath.Join(l.StateDir(), "dedup_queue_times.badger")
}

// EntityIndexDBDir is the per-entity metadata index.
func (l Layout) EntityIndexDBDir() string {
	return filepath.Join(l.StateDir(), "entity_index.badger")
}

// FactFilePath names the canonical file for one (park, date) partition.
func (l Layout) FactFilePath(parkCode, parkDate string) string {
	return filepath.Join(l.FactDir(), parkDate[:7], fmt.Sprintf("%s_%s.csv", parkCode, parkDate))
}

// StagingFilePath names the staging file for one (park, date) partition.
func (l Layout) StagingFilePath(parkCode, parkDate string) string {
	return filepath.Join(l.StagingDir(), parkDate[:7], fmt.Sprintf("%s_%s.csv", parkCode, parkDate))
}

// EnsureDirs creates the standard sub-areas. Called once at startup by
// commands that write.
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.FactDir(),
		l.StagingDir(),
		l.StateDir(),
		l.ModelsDir(),
		l.AggregatesDir(),
		l.CurvesDir("forecast"),
		l.CurvesDir("backfill"),
		l.WTIDir(),
		l.ReportsDir(),
		l.LogsDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
