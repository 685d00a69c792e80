// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/metrics"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// Merger runs the morning merge: at the start of each pipeline run,
// yesterday's staged live rows flow through the canonical writer - same
// dedup, same partition path - and the staging files are removed on success.
type Merger struct {
	layout state.Layout
	writer *fact.Writer
}

// NewMerger wires the merge to the canonical writer.
func NewMerger(layout state.Layout, writer *fact.Writer) *Merger {
	return &Merger{layout: layout, writer: writer}
}

// MergeResult reports one morning merge.
type MergeResult struct {
	FilesMerged int
	FilesFailed int
	RowsMerged  int
}

// MergeYesterday merges every staging file for yesterday's Eastern park date.
// Files that fail stay in place; the first failure is returned after all
// files are attempted so the pipeline can mark the step failed.
func (m *Merger) MergeYesterday(ctx context.Context, now time.Time) (MergeResult, error) {
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		return MergeResult{}, err
	}
	yesterdayDate := previousParkDate(now.In(eastern))
	return m.MergeDate(ctx, yesterdayDate)
}

// MergeDate merges staging files for one park date.
func (m *Merger) MergeDate(ctx context.Context, parkDate string) (MergeResult, error) {
	var res MergeResult
	pattern := filepath.Join(m.layout.StagingDir(), parkDate[:7], "*_"+parkDate+".csv")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return res, fmt.Errorf("glob staging files: %w", err)
	}
	if len(paths) == 0 {
		logging.Debug().Str("park_date", parkDate).Msg("No staging files to merge")
		return res, nil
	}

	var firstErr error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := m.mergeFile(ctx, path)
		if err != nil {
			res.FilesFailed++
			if firstErr == nil {
				firstErr = fmt.Errorf("merge %s: %w", filepath.Base(path), err)
			}
			logging.Error().Err(err).Str("file", path).Msg("Staging merge failed, file left in place")
			continue
		}
		res.FilesMerged++
		res.RowsMerged += rows
		metrics.MergeRowsMerged.Add(float64(rows))
	}
	logging.Info().
		Str("park_date", parkDate).
		Int("files", res.FilesMerged).
		Int("rows", res.RowsMerged).
		Int("failed", res.FilesFailed).
		Msg("Morning merge complete")
	return res, firstErr
}

// mergeFile commits one staging file through the canonical writer and
// removes it.
func (m *Merger) mergeFile(ctx context.Context, path string) (int, error) {
	obs, badRows, err := fact.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if badRows > 0 {
		logging.Warn().Str("file", path).Int("bad_rows", badRows).Msg("Undecodable staged rows skipped")
	}
	written := 0
	if len(obs) > 0 {
		res, err := m.writer.WriteBatch(ctx, obs)
		if err != nil {
			return 0, err
		}
		written = res.Written
	}
	// Commit succeeded; the staged file has served its purpose.
	if err := os.Remove(path); err != nil {
		return written, fmt.Errorf("remove staged file: %w", err)
	}
	return written, nil
}

// previousParkDate is yesterday's operational date for a local time: the 6 AM
// rule applied, minus one day.
func previousParkDate(local time.Time) string {
	today := models.ParkDate(local)
	t, _ := time.Parse(models.ParkDateLayout, today)
	return t.AddDate(0, 0, -1).Format(models.ParkDateLayout)
}
