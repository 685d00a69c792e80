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

// soldOutEncoded is the threshold on the encoded return-window hour field at
// or above which a row means "sold out for the day".
const soldOutEncoded = 8000

// rolloverSlack is how far a return window may appear before the observation
// before it is treated as next-day rather than clock noise.
const rolloverSlack = -15 * time.Minute

// priorityColumns is the named-column order of the fastpass format. The
// legacy headerless format carries the same eight fields positionally.
var priorityColumns = []string{"FATTID", "FDAY", "FMONTH", "FYEAR", "FHOUR", "FMIN", "FWINHR", "FWINMIN"}

// priorityRow is one decoded fastpass row before conversion to minutes.
type priorityRow struct {
	entity           string
	year, month, day int
	obsHour, obsMin  int
	retHour, retMin  int
	retEncoded       int
}

// splitCompactTime splits an encoded time value into hour and minute:
// HHMMSS >= 10000, HHMM in [100, 10000), plain hour below 100. The minute
// return is -1 when the encoding carries no minute.
func splitCompactTime(v int) (hour, minute int) {
	switch {
	case v >= 10000:
		return v / 10000, (v % 10000) / 100
	case v >= 100:
		return v / 100, v % 100
	default:
		return v, -1
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toObservation converts one decoded row into a PRIORITY canonical record.
// strictYears enables the legacy-format guard: a year outside the plausible
// range means the wrong positional convention and fails the row.
func (p priorityRow) toObservation(loc *time.Location, strictYears bool) (models.Observation, error) {
	if strictYears && (p.year < 1990 || p.year > 2100) {
		return models.Observation{}, fmt.Errorf("implausible year %d: wrong legacy column convention", p.year)
	}
	if p.month < 1 || p.month > 12 || p.day < 1 || p.day > 31 {
		return models.Observation{}, fmt.Errorf("invalid date %d-%d-%d", p.year, p.month, p.day)
	}

	obs := time.Date(p.year, time.Month(p.month), p.day,
		clamp(p.obsHour, 0, 23), clamp(p.obsMin, 0, 59), 0, 0, loc)

	minutes := models.SoldOutSentinel
	if p.retEncoded < soldOutEncoded {
		ret := time.Date(p.year, time.Month(p.month), p.day,
			clamp(p.retHour, 0, 23), clamp(p.retMin, 0, 59), 0, 0, loc)
		if ret.Sub(obs) < rolloverSlack {
			ret = ret.AddDate(0, 0, 1)
		}
		minutes = int(ret.Sub(obs).Round(time.Minute) / time.Minute)
	}

	entity := strings.ToUpper(strings.TrimSpace(p.entity))
	if entity == "" {
		return models.Observation{}, errors.New("empty entity code")
	}
	return models.Observation{
		EntityCode: entity,
		ObservedAt: obs,
		Type:       models.WaitTypePriority,
		Minutes:    minutes,
	}, nil
}

// collapsePriorityKeepLast drops earlier duplicates per (entity,
// observed_at) inside one chunk, keeping the last occurrence. Repeated
// window updates within the same minute supersede each other.
func collapsePriorityKeepLast(obs []models.Observation) []models.Observation {
	type dupKey struct {
		entity string
		at     int64
	}
	last := make(map[dupKey]int, len(obs))
	for i, o := range obs {
		last[dupKey{o.EntityCode, o.ObservedAt.Unix()}] = i
	}
	if len(last) == len(obs) {
		return obs
	}
	out := obs[:0]
	for i, o := range obs {
		if last[dupKey{o.EntityCode, o.ObservedAt.Unix()}] == i {
			out = append(out, o)
		}
	}
	return out
}

// ParseFastpassNew streams a named-column fastpass file. FHOUR/FWINHR may be
// compact-encoded (HHMM or HHMMSS); FMIN/FWINMIN fill the minute when the
// encoding carries none. A return-window hour field >= 8000 is the sold-out
// sentinel and emits 8888 verbatim.
func ParseFastpassNew(r io.Reader, loc *time.Location, chunkSize int, emit EmitFunc) (ChunkStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return ChunkStats{}, fmt.Errorf("read fastpass header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"FATTID", "FDAY", "FMONTH", "FYEAR", "FHOUR", "FWINHR"} {
		if _, ok := col[required]; !ok {
			return ChunkStats{}, fmt.Errorf("fastpass schema mismatch: missing %s in header %v", required, header)
		}
	}

	get := func(rec []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	var stats ChunkStats
	chunk := make([]models.Observation, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := emit(collapsePriorityKeepLast(chunk)); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.RowsDropped++
			continue
		}
		stats.RowsRead++

		row, ok := decodeNamedPriorityRow(rec, get)
		if !ok {
			stats.RowsDropped++
			continue
		}
		o, err := row.toObservation(loc, false)
		if err != nil {
			stats.RowsDropped++
			continue
		}
		if !o.Valid() {
			stats.RowsInvalid++
		}
		chunk = append(chunk, o)
		stats.RowsEmitted++

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

// decodeNamedPriorityRow decodes one named-column record, normalizing
// compact-encoded time fields.
func decodeNamedPriorityRow(rec []string, get func([]string, string) string) (priorityRow, bool) {
	atoi := func(s string) (int, bool) {
		if s == "" {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return 0, false
			}
			n = int(f)
		}
		return n, true
	}

	var p priorityRow
	p.entity = get(rec, "FATTID")
	var ok bool
	if p.year, ok = atoi(get(rec, "FYEAR")); !ok {
		return p, false
	}
	if p.month, ok = atoi(get(rec, "FMONTH")); !ok {
		return p, false
	}
	if p.day, ok = atoi(get(rec, "FDAY")); !ok {
		return p, false
	}

	rawObsHour, ok := atoi(get(rec, "FHOUR"))
	if !ok {
		return p, false
	}
	h, m := splitCompactTime(rawObsHour)
	p.obsHour = h
	if m >= 0 {
		p.obsMin = m
	} else if fm, ok := atoi(get(rec, "FMIN")); ok {
		p.obsMin = fm
	}

	rawRetHour, ok := atoi(get(rec, "FWINHR"))
	if !ok {
		return p, false
	}
	p.retEncoded = rawRetHour
	h, m = splitCompactTime(rawRetHour)
	p.retHour = h
	if m >= 0 {
		p.retMin = m
	} else if wm, ok := atoi(get(rec, "FWINMIN")); ok {
		p.retMin = wm
	}
	return p, true
}
