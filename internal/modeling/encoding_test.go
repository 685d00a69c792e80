// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"path/filepath"
	"testing"
)

func TestLabelEncoderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoding_mappings.json")
	enc, err := LoadLabelEncoder(path)
	if err != nil {
		t.Fatal(err)
	}

	mk := enc.Encode("park_code", "mk")
	ep := enc.Encode("park_code", "ep")
	if mk == ep {
		t.Error("distinct categories share an ID")
	}
	if again := enc.Encode("park_code", "mk"); again != mk {
		t.Errorf("re-encode changed ID: %d != %d", again, mk)
	}
	if cat, ok := enc.Decode("park_code", mk); !ok || cat != "mk" {
		t.Errorf("decode = %s,%v", cat, ok)
	}

	if err := enc.Save(); err != nil {
		t.Fatal(err)
	}

	// Reload: existing mappings never change; unknowns get new IDs.
	enc2, err := LoadLabelEncoder(path)
	if err != nil {
		t.Fatal(err)
	}
	if enc2.Encode("park_code", "mk") != mk {
		t.Error("persisted mapping changed on reload")
	}
	hs := enc2.Encode("park_code", "hs")
	if hs == mk || hs == ep {
		t.Errorf("new category reused an ID: %d", hs)
	}
}

func TestEncodeRowsShapes(t *testing.T) {
	enc, err := LoadLabelEncoder(filepath.Join(t.TempDir(), "enc.json"))
	if err != nil {
		t.Fatal(err)
	}
	dg := 3
	posted := 45
	rows := []FeatureRow{
		{
			EntityCode:   "MK101",
			ParkCode:     "mk",
			ParkDate:     "2024-01-15",
			MinsSince6AM: 270,
			DategroupID:  &dg,
			GeoDecay:     0.9,
			PostedWait:   &posted,
			Target:       22,
		},
		{
			EntityCode:   "MK101",
			ParkCode:     "mk",
			ParkDate:     "2024-01-16",
			MinsSince6AM: 300,
			GeoDecay:     0.8,
			Target:       30,
		},
	}

	with := EncodeRows(rows, enc, true)
	if with.Len() != 2 {
		t.Fatalf("rows = %d", with.Len())
	}
	if with.FeatureNames[len(with.FeatureNames)-1] != "posted_wait_time" {
		t.Errorf("posted column missing: %v", with.FeatureNames)
	}
	// Missing posted imputes the column median (45 here).
	lastCol := len(with.FeatureNames) - 1
	if with.Features[1][lastCol] != 45 {
		t.Errorf("imputed posted = %f", with.Features[1][lastCol])
	}

	without := EncodeRows(rows, enc, false)
	for _, name := range without.FeatureNames {
		if name == "posted_wait_time" {
			t.Error("without-posted variant carries posted column")
		}
	}
	if without.Weights[0] != 0.9 || without.ParkDates[1] != "2024-01-16" {
		t.Error("weights or park dates not threaded through")
	}
}

func TestSplitByDateChronological(t *testing.T) {
	ds := Dataset{FeatureNames: []string{"x"}}
	dates := []string{
		"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05",
		"2024-01-06", "2024-01-07", "2024-01-08", "2024-01-09", "2024-01-10",
	}
	for i, d := range dates {
		ds.Features = append(ds.Features, []float64{float64(i)})
		ds.Target = append(ds.Target, float64(i))
		ds.Weights = append(ds.Weights, 1)
		ds.ParkDates = append(ds.ParkDates, d)
	}

	split := SplitByDate(ds, 0.7, 0.15)
	if split.Train.Len() != 7 || split.Val.Len() != 1 || split.Test.Len() != 2 {
		t.Fatalf("split sizes = %d/%d/%d", split.Train.Len(), split.Val.Len(), split.Test.Len())
	}
	// Strictly chronological: max(train) < min(val) < min(test).
	if split.Train.ParkDates[split.Train.Len()-1] >= split.Val.ParkDates[0] {
		t.Error("train dates overlap val")
	}
	if split.Val.ParkDates[split.Val.Len()-1] >= split.Test.ParkDates[0] {
		t.Error("val dates overlap test")
	}
}

func TestPostedLookupFallbackChain(t *testing.T) {
	lookup := NewPostedLookup([]AggregateRow{
		{EntityCode: "MK101", DategroupID: 3, Hour: 14, Median: 40},
		{EntityCode: "MK101", DategroupID: 3, Hour: 15, Median: 50},
		{EntityCode: "MK101", DategroupID: 5, Hour: 14, Median: 20},
		{EntityCode: "MK102", DategroupID: 9, Hour: 9, Median: 10},
	})

	// Tier 1: exact cell.
	if v, ok := lookup.PredictedPosted("MK101", 3, 14); !ok || v != 40 {
		t.Errorf("tier1 = %f,%v", v, ok)
	}
	// Tier 2: (entity, dategroup) median across hours.
	if v, ok := lookup.PredictedPosted("MK101", 3, 20); !ok || v != 45 {
		t.Errorf("tier2 = %f,%v", v, ok)
	}
	// Tier 3: (entity, hour) across dategroups.
	if v, ok := lookup.PredictedPosted("MK101", 7, 14); !ok || v != 30 {
		t.Errorf("tier3 = %f,%v", v, ok)
	}
	// Tier 4: entity median.
	if v, ok := lookup.PredictedPosted("MK101", 7, 20); !ok || v != 40 {
		t.Errorf("tier4 = %f,%v", v, ok)
	}
	// Tier 5: park-level (MK103 unseen, falls to mk hour 9).
	if v, ok := lookup.PredictedPosted("MK103", 1, 9); !ok || v != 10 {
		t.Errorf("tier5 = %f,%v", v, ok)
	}
	// Nothing anywhere.
	if _, ok := lookup.PredictedPosted("ZZ99", 1, 1); ok {
		t.Error("lookup for unknown park succeeded")
	}
}
