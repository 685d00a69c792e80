// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package dimensions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParkHours is the resolved operating window for one (park, date). Times are
// minutes since local midnight; Close may exceed 1440 when the park runs
// past midnight.
type ParkHours struct {
	ParkDate   string
	ParkCode   string
	OpenMin    int
	CloseMin   int
	EMHMorning int // earliest extra-hours open, -1 when none
	EMHEvening int // latest extra-hours close, -1 when none
	Confidence float64
}

// EarliestOpen is the first minute guests can be in the park, considering
// morning extra hours.
func (h ParkHours) EarliestOpen() int {
	if h.EMHMorning >= 0 && h.EMHMorning < h.OpenMin {
		return h.EMHMorning
	}
	return h.OpenMin
}

// LatestClose is the last minute, considering evening extra hours.
func (h ParkHours) LatestClose() int {
	if h.EMHEvening >= 0 && h.EMHEvening > h.CloseMin {
		return h.EMHEvening
	}
	return h.CloseMin
}

// HoursOpen is the operating span in hours.
func (h ParkHours) HoursOpen() float64 {
	return float64(h.CloseMin-h.OpenMin) / 60.0
}

// versionedRow is one raw record of the versioned park hours table. Several
// versions of the same (date, park) may coexist; the best available version
// as of a query time wins.
type versionedRow struct {
	hours      ParkHours
	versionSeq int
	validFrom  time.Time
	validUntil time.Time
}

// ParkHoursTable resolves park hours from the versioned dimension, returning
// the best-available version for each (date, park) as of query time.
type ParkHoursTable struct {
	rows map[string][]versionedRow // key: parkDate|parkCode
}

// versionRank orders version types from most to least authoritative.
var versionRank = map[string]int{
	"actual":    3,
	"published": 2,
	"donor":     1,
}

func hoursKey(parkDate, parkCode string) string { return parkDate + "|" + parkCode }

// LoadParkHours reads the versioned park hours CSV.
func LoadParkHours(path string) (*ParkHoursTable, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, fmt.Errorf("load dim_park_hours_versioned: %w", err)
	}
	tbl := &ParkHoursTable{rows: make(map[string][]versionedRow)}
	for _, row := range t.rows {
		date := normalizeDate(t.field(row, "park_date", "date"))
		park := strings.ToLower(t.field(row, "park_code", "park"))
		openMin, okOpen := ParseClockMinutes(t.field(row, "opening_time", "open", "open_time"))
		closeMin, okClose := ParseClockMinutes(t.field(row, "closing_time", "close", "close_time"))
		if date == "" || park == "" || !okOpen || !okClose {
			continue
		}
		// Past-midnight closes arrive as small clock values.
		if closeMin <= openMin {
			closeMin += 24 * 60
		}
		emhM := -1
		if v, ok := ParseClockMinutes(t.field(row, "emh_morning")); ok {
			emhM = v
		}
		emhE := -1
		if v, ok := ParseClockMinutes(t.field(row, "emh_evening")); ok {
			emhE = v
			if emhE <= openMin {
				emhE += 24 * 60
			}
		}
		confidence, _ := strconv.ParseFloat(t.field(row, "confidence"), 64)

		vr := versionedRow{
			hours: ParkHours{
				ParkDate:   date,
				ParkCode:   park,
				OpenMin:    openMin,
				CloseMin:   closeMin,
				EMHMorning: emhM,
				EMHEvening: emhE,
				Confidence: confidence,
			},
			versionSeq: versionRank[strings.ToLower(t.field(row, "version_type"))],
		}
		if from, err := time.Parse(time.RFC3339, t.field(row, "valid_from")); err == nil {
			vr.validFrom = from
		}
		if until, err := time.Parse(time.RFC3339, t.field(row, "valid_until")); err == nil {
			vr.validUntil = until
		}
		key := hoursKey(date, park)
		tbl.rows[key] = append(tbl.rows[key], vr)
	}
	for _, rows := range tbl.rows {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].versionSeq > rows[j].versionSeq
		})
	}
	return tbl, nil
}

// Lookup returns the best-available hours for one (date, park) as of asOf.
// The second return is false when no version covers the date.
func (p *ParkHoursTable) Lookup(parkDate, parkCode string, asOf time.Time) (ParkHours, bool) {
	rows := p.rows[hoursKey(parkDate, strings.ToLower(parkCode))]
	for _, vr := range rows {
		if !vr.validFrom.IsZero() && asOf.Before(vr.validFrom) {
			continue
		}
		if !vr.validUntil.IsZero() && asOf.After(vr.validUntil) {
			continue
		}
		return vr.hours, true
	}
	// Fall back to the top-ranked version regardless of validity window:
	// stale hours beat none for window gating.
	if len(rows) > 0 {
		return rows[0].hours, true
	}
	return ParkHours{}, false
}

// LookupMany resolves hours for a set of dates in one pass, the vectorized
// join used by the feature builder. Missing dates are absent from the map.
func (p *ParkHoursTable) LookupMany(parkDates []string, parkCode string, asOf time.Time) map[string]ParkHours {
	out := make(map[string]ParkHours, len(parkDates))
	for _, d := range parkDates {
		if h, ok := p.Lookup(d, parkCode, asOf); ok {
			out[d] = h
		}
	}
	return out
}

// ParseClockMinutes parses "HH:MM" or "HH:MM:SS" to minutes since midnight.
func ParseClockMinutes(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// FormatClock renders minutes since midnight as HH:MM, wrapping past
// midnight.
func FormatClock(minutes int) string {
	minutes %= 24 * 60
	if minutes < 0 {
		minutes += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
