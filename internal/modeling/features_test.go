// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/models"
)

func nyTime(t *testing.T, stamp string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	at, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, loc)
	if err != nil {
		t.Fatal(err)
	}
	return at
}

func TestMinsSince6AM(t *testing.T) {
	cases := []struct {
		stamp string
		want  int
	}{
		{"2024-01-15 06:00:00", 0},
		{"2024-01-15 10:30:00", 270},
		{"2024-01-15 23:59:00", 1079},
		{"2024-01-15 00:30:00", 1110}, // past midnight wraps
		{"2024-01-15 05:59:00", 1439},
	}
	for _, tc := range cases {
		if got := MinsSince6AM(nyTime(t, tc.stamp)); got != tc.want {
			t.Errorf("MinsSince6AM(%s) = %d, want %d", tc.stamp, got, tc.want)
		}
	}
}

func TestGeoDecay(t *testing.T) {
	ref := nyTime(t, "2024-01-15 12:00:00")
	if w := GeoDecay(ref, ref); math.Abs(w-1.0) > 1e-9 {
		t.Errorf("decay at zero age = %f", w)
	}
	twoYears := ref.AddDate(-2, 0, 0)
	if w := GeoDecay(twoYears, ref); math.Abs(w-0.5) > 0.01 {
		t.Errorf("decay at 730 days = %f, want ~0.5", w)
	}
}

func testDims(t *testing.T) FeatureDims {
	t.Helper()
	hoursCSV := filepath.Join(t.TempDir(), "hours.csv")
	body := "park_date,park_code,version_type,opening_time,closing_time\n" +
		"2024-01-15,mk,published,09:00,22:00\n"
	if err := os.WriteFile(hoursCSV, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}
	hours, err := dimensions.LoadParkHours(hoursCSV)
	if err != nil {
		t.Fatal(err)
	}
	return NewFeatureDims(
		[]dimensions.DategroupRow{{ParkDate: "2024-01-15", DateGroupID: 3}},
		[]dimensions.SeasonRow{{ParkDate: "2024-01-15", Season: "Winter", SeasonYear: 2024}},
		hours,
	)
}

func TestBuildFeaturesActualTarget(t *testing.T) {
	obs := []models.Observation{
		{EntityCode: "MK101", ObservedAt: nyTime(t, "2024-01-15 10:00:00"), Type: models.WaitTypePosted, Minutes: 30},
		{EntityCode: "MK101", ObservedAt: nyTime(t, "2024-01-15 10:25:00"), Type: models.WaitTypeActual, Minutes: 22},
		{EntityCode: "MK101", ObservedAt: nyTime(t, "2024-01-15 10:40:00"), Type: models.WaitTypePosted, Minutes: 45},
	}
	ref := nyTime(t, "2024-01-16 12:00:00")
	rows := BuildFeatures(obs, models.WaitTypeActual, testDims(t), ref)
	if len(rows) != 1 {
		t.Fatalf("feature rows = %d, want 1 (ACTUAL only)", len(rows))
	}
	r := rows[0]
	if r.Target != 22 {
		t.Errorf("target = %f", r.Target)
	}
	if r.DategroupID == nil || *r.DategroupID != 3 {
		t.Errorf("dategroupid = %v", r.DategroupID)
	}
	if r.Season == nil || *r.Season != "Winter" || *r.SeasonYear != 2024 {
		t.Errorf("season = %v/%v", r.Season, r.SeasonYear)
	}
	// Nearest posted is the 10:40 row (15 min away vs 25).
	if r.PostedWait == nil || *r.PostedWait != 45 {
		t.Errorf("posted covariate = %v, want 45", r.PostedWait)
	}
	if r.MinsSinceParkOpen == nil || *r.MinsSinceParkOpen != 85 {
		t.Errorf("mins since open = %v, want 85", r.MinsSinceParkOpen)
	}
	if r.ParkHoursOpen == nil || *r.ParkHoursOpen != 13.0 {
		t.Errorf("hours open = %v", r.ParkHoursOpen)
	}
	if r.MinsSince6AM != 265 {
		t.Errorf("mins since 6am = %d", r.MinsSince6AM)
	}
	if r.GeoDecay >= 1 || r.GeoDecay <= 0 {
		t.Errorf("decay = %f", r.GeoDecay)
	}
}

func TestBuildFeaturesPriorityTargetHasNoPosted(t *testing.T) {
	obs := []models.Observation{
		{EntityCode: "AK01", ObservedAt: nyTime(t, "2024-01-15 10:00:00"), Type: models.WaitTypePosted, Minutes: 30},
		{EntityCode: "AK01", ObservedAt: nyTime(t, "2024-01-15 10:05:00"), Type: models.WaitTypePriority, Minutes: 120},
	}
	rows := BuildFeatures(obs, models.WaitTypePriority, FeatureDims{}, nyTime(t, "2024-01-16 12:00:00"))
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].PostedWait != nil {
		t.Error("priority target carried a posted covariate")
	}
}

func TestFeaturePipelineDeterministic(t *testing.T) {
	obs := []models.Observation{
		{EntityCode: "MK101", ObservedAt: nyTime(t, "2024-01-15 10:00:00"), Type: models.WaitTypeActual, Minutes: 15},
		{EntityCode: "MK101", ObservedAt: nyTime(t, "2024-01-15 11:00:00"), Type: models.WaitTypeActual, Minutes: 25},
	}
	dims := testDims(t)
	ref := nyTime(t, "2024-01-16 12:00:00")
	a := BuildFeatures(obs, models.WaitTypeActual, dims, ref)
	b := BuildFeatures(obs, models.WaitTypeActual, dims, ref)
	if len(a) != len(b) {
		t.Fatal("nondeterministic row count")
	}
	for i := range a {
		if a[i].MinsSince6AM != b[i].MinsSince6AM || a[i].GeoDecay != b[i].GeoDecay || a[i].Target != b[i].Target {
			t.Fatalf("row %d differs between runs", i)
		}
	}
}
