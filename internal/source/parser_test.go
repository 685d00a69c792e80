// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/parkwaits/internal/models"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func collect(t *testing.T) (EmitFunc, *[]models.Observation) {
	t.Helper()
	var all []models.Observation
	return func(obs []models.Observation) error {
		all = append(all, obs...)
		return nil
	}, &all
}

func TestClassify(t *testing.T) {
	cases := map[string]FileType{
		"export/wait_times/wdw/wait_times_2024.csv":             FileStandby,
		"export/fastpass_times/wdw/fastpass_times_2023_05.csv":  FileFastpassNew,
		"export/fastpass_times/wdw/fastpass_times_2014.csv":     FileFastpassOld,
		"export/fastpass_times/wdw/fastpass_times_2019_01.csv":  FileFastpassOld,
		"export/fastpass_times/wdw/fastpass_times_201902.csv":   FileFastpassOld,
		"export/fastpass_times/wdw/fastpass_times_2019_05.csv":  FileFastpassNew,
		"export/other/readme.csv":                               FileUnknown,
	}
	for key, want := range cases {
		if got := Classify(key); got != want {
			t.Errorf("Classify(%s) = %s, want %s", key, got, want)
		}
	}
}

func TestParseStandbyEmitsTwoRecords(t *testing.T) {
	input := strings.Join([]string{
		"entity_code,observed_at,submitted_posted_time,submitted_actual_time,user_id",
		"MK101,2024-01-15T10:30:00,35,40,u1",
		"mk101,2024-01-15T11:00:00,,25,u2", // posted missing, lowercase entity
		"MK102,2024-01-15T11:05:00,,,u3",   // both missing: dropped
		"MK103,not-a-date,10,20,u4",        // bad date: dropped
	}, "\n") + "\n"

	emit, got := collect(t)
	stats, err := ParseStandby(strings.NewReader(input), newYork(t), 1000, emit)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RowsEmitted != 3 {
		t.Errorf("emitted = %d, want 3", stats.RowsEmitted)
	}
	if stats.RowsDropped != 2 {
		t.Errorf("dropped = %d, want 2", stats.RowsDropped)
	}

	first := (*got)[0]
	if first.EntityCode != "MK101" || first.Type != models.WaitTypePosted || first.Minutes != 35 {
		t.Errorf("first record = %+v", first)
	}
	if models.FormatObservedAt(first.ObservedAt) != "2024-01-15T10:30:00-05:00" {
		t.Errorf("offset stamping = %s", models.FormatObservedAt(first.ObservedAt))
	}
	second := (*got)[1]
	if second.Type != models.WaitTypeActual || second.Minutes != 40 {
		t.Errorf("second record = %+v", second)
	}
	third := (*got)[2]
	if third.EntityCode != "MK101" || third.Type != models.WaitTypeActual || third.Minutes != 25 {
		t.Errorf("third record = %+v", third)
	}
}

func TestParseStandbyInvalidStillEmitted(t *testing.T) {
	input := "entity_code,observed_at,submitted_posted_time,submitted_actual_time\n" +
		"MK101,2024-01-15T10:30:00,1200,\n" // over range: invalid but emitted

	emit, got := collect(t)
	stats, err := ParseStandby(strings.NewReader(input), newYork(t), 1000, emit)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RowsEmitted != 1 || stats.RowsInvalid != 1 {
		t.Errorf("emitted/invalid = %d/%d", stats.RowsEmitted, stats.RowsInvalid)
	}
	if (*got)[0].Minutes != 1200 {
		t.Errorf("minutes = %d", (*got)[0].Minutes)
	}
}

func TestParseFastpassNewWindowMinutes(t *testing.T) {
	input := strings.Join([]string{
		"FATTID,FDAY,FMONTH,FYEAR,FHOUR,FMIN,FWINHR,FWINMIN",
		"AK01,15,6,2024,10,30,12,0",    // window opens 12:00, observed 10:30 -> 90
		"AK02,15,6,2024,1030,0,1400,0", // compact HHMM forms -> 10:30 .. 14:00 -> 210
		"AK01,15,6,2024,23,50,0,10",    // rollover: 00:10 next day -> 20
		"AK01,15,6,2024,10,0,8001,0",   // sold out sentinel
	}, "\n") + "\n"

	emit, got := collect(t)
	stats, err := ParseFastpassNew(strings.NewReader(input), newYork(t), 1000, emit)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RowsEmitted != 4 {
		t.Fatalf("emitted = %d: %+v", stats.RowsEmitted, *got)
	}
	wantMinutes := []int{90, 210, 20, models.SoldOutSentinel}
	for i, want := range wantMinutes {
		o := (*got)[i]
		if o.Type != models.WaitTypePriority {
			t.Errorf("row %d type = %s", i, o.Type)
		}
		if o.Minutes != want {
			t.Errorf("row %d minutes = %d, want %d", i, o.Minutes, want)
		}
	}
}

func TestParseFastpassNewCollapsesDuplicateStamps(t *testing.T) {
	input := strings.Join([]string{
		"FATTID,FDAY,FMONTH,FYEAR,FHOUR,FMIN,FWINHR,FWINMIN",
		"AK01,15,6,2024,10,30,11,0", // superseded
		"AK01,15,6,2024,10,30,12,0", // kept (last wins)
	}, "\n") + "\n"

	emit, got := collect(t)
	if _, err := ParseFastpassNew(strings.NewReader(input), newYork(t), 1000, emit); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 1 {
		t.Fatalf("rows = %d, want 1", len(*got))
	}
	if (*got)[0].Minutes != 90 {
		t.Errorf("kept minutes = %d, want last occurrence", (*got)[0].Minutes)
	}
}

func TestParseFastpassLegacyPositional(t *testing.T) {
	// Row 0 is an inter-file header; data is headerless and positional:
	// FATTID, FDAY, FMONTH, FYEAR, FHOUR, FMIN, FWINHR, FWINMIN.
	input := strings.Join([]string{
		"x,x,x,x,x,x,x,x",
		"MK08,15,1,2014,9,0,10,30",  // 90 minutes
		"MK08,15,1,2014,9,30,8200,0", // sold out
		"MK08,15,1,2813,9,0,10,0",   // pathological year: parse error for the row
	}, "\n") + "\n"

	emit, got := collect(t)
	stats, err := ParseFastpassLegacy(strings.NewReader(input), newYork(t), 1000, emit)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RowsEmitted != 2 || stats.RowsDropped != 1 {
		t.Fatalf("emitted/dropped = %d/%d", stats.RowsEmitted, stats.RowsDropped)
	}
	if (*got)[0].Minutes != 90 {
		t.Errorf("minutes = %d", (*got)[0].Minutes)
	}
	if (*got)[1].Minutes != models.SoldOutSentinel {
		t.Errorf("sold out minutes = %d", (*got)[1].Minutes)
	}
}

func TestParseFastpassLegacyAllRowsFailed(t *testing.T) {
	input := "header,row\nbad,row\n"
	emit, _ := collect(t)
	if _, err := ParseFastpassLegacy(strings.NewReader(input), newYork(t), 1000, emit); err == nil {
		t.Error("expected failure when no rows parse")
	}
}

func TestSplitCompactTime(t *testing.T) {
	cases := []struct {
		in           int
		hour, minute int
	}{
		{9, 9, -1},
		{14, 14, -1},
		{930, 9, 30},
		{1430, 14, 30},
		{143059, 14, 30},
	}
	for _, tc := range cases {
		h, m := splitCompactTime(tc.in)
		if h != tc.hour || m != tc.minute {
			t.Errorf("splitCompactTime(%d) = %d,%d want %d,%d", tc.in, h, m, tc.hour, tc.minute)
		}
	}
}
