// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package fact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/metrics"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// BatchResult reports one committed write batch.
type BatchResult struct {
	Written    int
	Duplicates int
	ByType     map[models.WaitTimeType]int
	ByPark     map[string]int

	// NewRows are the observations actually appended, for sampling.
	NewRows []models.Observation
}

// Writer is the canonical writer. Each batch is deduplicated against
// the content set, bucketed by (park_code, park_date), merge-appended to the
// partition files, reflected in the entity index, and finally committed to
// the dedup set.
type Writer struct {
	layout state.Layout
	dedup  *state.DedupSet
	index  *state.EntityIndex
}

// NewWriter wires the writer to the shared state stores.
func NewWriter(layout state.Layout, dedup *state.DedupSet, index *state.EntityIndex) *Writer {
	return &Writer{layout: layout, dedup: dedup, index: index}
}

type bucketKey struct {
	park string
	date string
}

// WriteBatch commits one batch of canonical records.
func (w *Writer) WriteBatch(ctx context.Context, obs []models.Observation) (BatchResult, error) {
	res := BatchResult{
		ByType: make(map[models.WaitTimeType]int),
		ByPark: make(map[string]int),
	}
	if len(obs) == 0 {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	mask, err := w.dedup.MaskNew(obs)
	if err != nil {
		return res, fmt.Errorf("dedup check: %w", err)
	}

	buckets := make(map[bucketKey][]models.Observation)
	var fresh []models.Observation
	for i, o := range obs {
		if !mask[i] {
			res.Duplicates++
			metrics.DedupHits.Inc()
			continue
		}
		key := bucketKey{park: o.ParkCode(), date: o.ParkDate()}
		buckets[key] = append(buckets[key], o)
		fresh = append(fresh, o)
	}
	if len(fresh) == 0 {
		return res, nil
	}

	for key, rows := range buckets {
		if err := w.flushBucket(key, rows); err != nil {
			// No partial append: the whole batch is abandoned; the file is
			// failed by the caller and the catalog is not updated.
			return res, fmt.Errorf("flush %s_%s: %w", key.park, key.date, err)
		}
		res.ByPark[key.park] += len(rows)
	}

	if err := w.applyIndexDeltas(buckets); err != nil {
		return res, fmt.Errorf("update entity index: %w", err)
	}

	if err := w.dedup.Commit(fresh); err != nil {
		return res, fmt.Errorf("commit dedup set: %w", err)
	}

	res.Written = len(fresh)
	res.NewRows = fresh
	for _, o := range fresh {
		res.ByType[o.Type]++
	}
	return res, nil
}

// flushBucket merge-appends sorted rows into one partition file. New files
// are written whole; existing files are rewritten as a sorted merge of the
// old rows and the new tail, via tmp + rename so readers never see a torn
// partition.
func (w *Writer) flushBucket(key bucketKey, rows []models.Observation) error {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ObservedAt.Before(rows[j].ObservedAt)
	})

	path := w.layout.FactFilePath(key.park, key.date)
	existing, badRows, err := readIfExists(path)
	if err != nil {
		return err
	}
	if badRows > 0 {
		logging.Warn().
			Str("file", path).
			Int("bad_rows", badRows).
			Msg("Undecodable rows in existing partition file")
	}

	// Rows already in the file (left by a run that stopped before its dedup
	// commit) are not appended a second time.
	if len(existing) > 0 {
		inFile := make(map[string]struct{}, len(existing))
		for _, o := range existing {
			inFile[string(o.DedupKey())] = struct{}{}
		}
		kept := make([]models.Observation, 0, len(rows))
		for _, o := range rows {
			if _, dup := inFile[string(o.DedupKey())]; !dup {
				kept = append(kept, o)
			}
		}
		rows = kept
	}

	merged := mergeSorted(existing, rows)

	var buf bytes.Buffer
	if err := WriteAll(&buf, merged); err != nil {
		return err
	}
	if err := state.WriteFileAtomic(path, buf.Bytes(), 0o640); err != nil {
		return err
	}
	action := "Wrote"
	if len(existing) > 0 {
		action = "Appended"
	}
	logging.Info().
		Str("file", path).
		Int("rows", len(rows)).
		Str("park", key.park).
		Str("park_date", key.date).
		Msgf("%s partition rows", action)
	return nil
}

// applyIndexDeltas upserts the per-entity counters for one batch.
func (w *Writer) applyIndexDeltas(buckets map[bucketKey][]models.Observation) error {
	type deltaAcc struct {
		state.BatchDelta
	}
	deltas := make(map[string]*deltaAcc)
	for key, rows := range buckets {
		for _, o := range rows {
			d, ok := deltas[o.EntityCode]
			if !ok {
				d = &deltaAcc{}
				deltas[o.EntityCode] = d
			}
			if key.date > d.MaxParkDate {
				d.MaxParkDate = key.date
			}
			if o.ObservedAt.After(d.MaxObservedAt) {
				d.MaxObservedAt = o.ObservedAt
			}
			switch o.Type {
			case models.WaitTypePosted:
				d.Posted++
			case models.WaitTypeActual:
				d.Actual++
			case models.WaitTypePriority:
				d.Priority++
			}
		}
	}
	for entity, d := range deltas {
		if err := w.index.RecordBatch(entity, d.BatchDelta); err != nil {
			return fmt.Errorf("entity %s: %w", entity, err)
		}
	}
	return nil
}

// mergeSorted merges two observation slices already sorted by observed_at.
// The existing file's order is trusted; it is never fully re-sorted.
func mergeSorted(a, b []models.Observation) []models.Observation {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]models.Observation, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if !b[j].ObservedAt.Before(a[i].ObservedAt) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func readIfExists(path string) ([]models.Observation, int, error) {
	obs, badRows, err := ReadFile(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return obs, badRows, nil
}
