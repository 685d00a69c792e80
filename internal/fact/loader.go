// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package fact

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// Load returns every canonical row for one entity, sorted by observed_at.
// Each entity belongs to exactly one park, so only that park's partition
// files are opened.
func Load(layout state.Layout, entityCode string) ([]models.Observation, error) {
	parkCode := models.ParkFromEntity(entityCode)
	if parkCode == "" {
		return nil, fmt.Errorf("cannot derive park from entity %q", entityCode)
	}

	paths, err := partitionFiles(layout, parkCode)
	if err != nil {
		return nil, err
	}

	var out []models.Observation
	for _, path := range paths {
		obs, badRows, err := ReadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("file", path).Msg("Error reading partition file")
			continue
		}
		if badRows > 0 {
			logging.Warn().Str("file", path).Int("bad_rows", badRows).Msg("Undecodable rows skipped")
		}
		for _, o := range obs {
			if o.EntityCode == entityCode {
				out = append(out, o)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}

// LoadPark returns every canonical row for one park across all dates.
func LoadPark(layout state.Layout, parkCode string) ([]models.Observation, error) {
	paths, err := partitionFiles(layout, parkCode)
	if err != nil {
		return nil, err
	}
	var out []models.Observation
	for _, path := range paths {
		obs, _, err := ReadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("file", path).Msg("Error reading partition file")
			continue
		}
		out = append(out, obs...)
	}
	return out, nil
}

// partitionFiles lists the fact files of one park, date ascending.
func partitionFiles(layout state.Layout, parkCode string) ([]string, error) {
	pattern := filepath.Join(layout.FactDir(), "*", parkCode+"_*.csv")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	// Keep only exact park matches: mk_ not mke_.
	kept := paths[:0]
	for _, p := range paths {
		name := filepath.Base(p)
		if strings.HasPrefix(name, parkCode+"_") {
			kept = append(kept, p)
		}
	}
	sort.Strings(kept)
	return kept, nil
}

// AllPartitionFiles lists every fact file under the store.
func AllPartitionFiles(layout state.Layout) ([]string, error) {
	pattern := filepath.Join(layout.FactDir(), "*", "*.csv")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob fact files: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// PartitionParkDate parses {park}_{YYYY-MM-DD}.csv back into its components.
func PartitionParkDate(path string) (parkCode, parkDate string, err error) {
	name := strings.TrimSuffix(filepath.Base(path), ".csv")
	i := strings.Index(name, "_")
	if i <= 0 || len(name)-i-1 != len(models.ParkDateLayout) {
		return "", "", fmt.Errorf("not a partition file name: %s", filepath.Base(path))
	}
	return name[:i], name[i+1:], nil
}

// RebuildIndex reconstructs entity index records from a full scan of the
// fact store.
func RebuildIndex(layout state.Layout) ([]state.EntityRecord, error) {
	paths, err := AllPartitionFiles(layout)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	recs := make(map[string]*state.EntityRecord)
	for _, path := range paths {
		_, parkDate, err := PartitionParkDate(path)
		if err != nil {
			logging.Warn().Str("file", path).Msg("Skipping non-partition file during rebuild")
			continue
		}
		obs, badRows, err := ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if badRows > 0 {
			logging.Warn().Str("file", path).Int("bad_rows", badRows).Msg("Undecodable rows during rebuild")
		}
		for _, o := range obs {
			rec, ok := recs[o.EntityCode]
			if !ok {
				rec = &state.EntityRecord{
					EntityCode:  o.EntityCode,
					FirstSeenAt: now,
					UpdatedAt:   now,
				}
				recs[o.EntityCode] = rec
			}
			if parkDate > rec.LatestParkDate {
				rec.LatestParkDate = parkDate
			}
			if o.ObservedAt.After(rec.LatestObservedAt) {
				rec.LatestObservedAt = o.ObservedAt
			}
			rec.RowCount++
			switch o.Type {
			case models.WaitTypePosted:
				rec.PostedCount++
			case models.WaitTypeActual:
				rec.ActualCount++
			case models.WaitTypePriority:
				rec.PriorityCount++
			}
		}
	}
	out := make([]state.EntityRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityCode < out[j].EntityCode })
	return out, nil
}
