// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/parkwaits/internal/models"
)

// ChunkStats accumulates per-file parse accounting. Dropped rows are rows the
// format itself discards (both numeric fields missing, unparseable dates);
// invalid rows are emitted but outside the documented numeric ranges and are
// reported by the validator downstream.
type ChunkStats struct {
	RowsRead    int
	RowsEmitted int
	RowsDropped int
	RowsInvalid int
}

func (s *ChunkStats) add(o ChunkStats) {
	s.RowsRead += o.RowsRead
	s.RowsEmitted += o.RowsEmitted
	s.RowsDropped += o.RowsDropped
	s.RowsInvalid += o.RowsInvalid
}

// EmitFunc receives one parsed chunk of canonical records. Returning an error
// aborts the file.
type EmitFunc func(obs []models.Observation) error

// errAllRowsFailed marks a file where not a single row parsed; the file is
// failed rather than silently emptied.
var errAllRowsFailed = errors.New("no rows could be parsed")

// observedAtLayouts are the naive timestamp shapes seen in standby exports.
// An explicit offset, when present, always wins.
var observedAtLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseObservedAtLocal parses a source timestamp, stamping loc when the
// string carries no offset.
func parseObservedAtLocal(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(models.ObservedAtLayout, s); err == nil {
		return t, nil
	}
	for _, layout := range observedAtLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable observed_at %q", s)
}

// ParseStandby streams a standby file: columns entity_code, observed_at,
// submitted_posted_time, submitted_actual_time (case-insensitive header).
// Rows where both numeric fields are missing are dropped. Each surviving row
// emits up to two canonical records, POSTED and ACTUAL, for whichever field
// parses.
func ParseStandby(r io.Reader, loc *time.Location, chunkSize int, emit EmitFunc) (ChunkStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return ChunkStats{}, fmt.Errorf("read standby header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	entityIdx, okEntity := col["entity_code"]
	observedIdx, okObserved := col["observed_at"]
	postedIdx, okPosted := col["submitted_posted_time"]
	actualIdx, okActual := col["submitted_actual_time"]
	if !okEntity || !okObserved || (!okPosted && !okActual) {
		return ChunkStats{}, fmt.Errorf("standby schema mismatch: header %v", header)
	}

	var stats ChunkStats
	chunk := make([]models.Observation, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := emit(chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	field := func(rec []string, idx int, ok bool) string {
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed CSV line: drop the row, keep streaming.
			stats.RowsDropped++
			continue
		}
		stats.RowsRead++

		posted, postedOK := parseMinutes(field(rec, postedIdx, okPosted))
		actual, actualOK := parseMinutes(field(rec, actualIdx, okActual))
		if !postedOK && !actualOK {
			stats.RowsDropped++
			continue
		}

		entity := strings.ToUpper(field(rec, entityIdx, true))
		at, err := parseObservedAtLocal(field(rec, observedIdx, true), loc)
		if err != nil || entity == "" {
			stats.RowsDropped++
			continue
		}

		if postedOK {
			o := models.Observation{EntityCode: entity, ObservedAt: at, Type: models.WaitTypePosted, Minutes: posted}
			if !o.Valid() {
				stats.RowsInvalid++
			}
			chunk = append(chunk, o)
			stats.RowsEmitted++
		}
		if actualOK {
			o := models.Observation{EntityCode: entity, ObservedAt: at, Type: models.WaitTypeActual, Minutes: actual}
			if !o.Valid() {
				stats.RowsInvalid++
			}
			chunk = append(chunk, o)
			stats.RowsEmitted++
		}

		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	if stats.RowsRead > 0 && stats.RowsEmitted == 0 {
		return stats, errAllRowsFailed
	}
	return stats, nil
}

// parseMinutes parses a wait minutes field, rounding fractional values the
// way the export occasionally encodes them.
func parseMinutes(s string) (int, bool) {
	if s == "" || strings.EqualFold(s, "na") || strings.EqualFold(s, "null") {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f >= 0 {
			return int(f + 0.5), true
		}
		return int(f - 0.5), true
	}
	return 0, false
}
