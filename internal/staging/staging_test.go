// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package staging

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

func testLayout(t *testing.T) state.Layout {
	t.Helper()
	layout := state.NewLayout(t.TempDir())
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return layout
}

func testStores(t *testing.T) (*state.DedupSet, *state.EntityIndex) {
	t.Helper()
	db, err := state.OpenBadgerInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	dedup := state.NewDedupSet(db)
	index, err := state.NewEntityIndex(db)
	if err != nil {
		t.Fatal(err)
	}
	return dedup, index
}

func mkObs(t *testing.T, entity, stamp string, mins int) models.Observation {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	at, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, loc)
	if err != nil {
		t.Fatal(err)
	}
	return models.Observation{EntityCode: entity, ObservedAt: at, Type: models.WaitTypePosted, Minutes: mins}
}

func writeStagingFile(t *testing.T, layout state.Layout, park, date string, obs []models.Observation) string {
	t.Helper()
	path := layout.StagingFilePath(park, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := fact.WriteAll(&buf, obs); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMorningMerge(t *testing.T) {
	layout := testLayout(t)
	dedup, index := testStores(t)
	writer := fact.NewWriter(layout, dedup, index)
	merger := NewMerger(layout, writer)
	ctx := context.Background()

	// Two rows already in the fact store.
	preexisting := []models.Observation{
		mkObs(t, "MK101", "2026-01-26 10:00:00", 20),
		mkObs(t, "MK101", "2026-01-26 10:05:00", 25),
	}
	if _, err := writer.WriteBatch(ctx, preexisting); err != nil {
		t.Fatal(err)
	}

	// Staging holds those two plus five new rows.
	staged := append(append([]models.Observation{}, preexisting...),
		mkObs(t, "MK101", "2026-01-26 10:10:00", 30),
		mkObs(t, "MK101", "2026-01-26 10:15:00", 30),
		mkObs(t, "MK102", "2026-01-26 10:10:00", 10),
		mkObs(t, "MK102", "2026-01-26 10:15:00", 15),
		mkObs(t, "MK103", "2026-01-26 10:20:00", 5),
	)
	stagedPath := writeStagingFile(t, layout, "mk", "2026-01-26", staged)

	res, err := merger.MergeDate(ctx, "2026-01-26")
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesMerged != 1 || res.RowsMerged != 5 {
		t.Errorf("merged files/rows = %d/%d, want 1/5", res.FilesMerged, res.RowsMerged)
	}
	if _, err := os.Stat(stagedPath); !os.IsNotExist(err) {
		t.Error("staged file not deleted after merge")
	}

	obs, _, err := fact.ReadFile(layout.FactFilePath("mk", "2026-01-26"))
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 7 {
		t.Errorf("fact rows = %d, want union of 7", len(obs))
	}
}

func TestMorningMergeIdempotent(t *testing.T) {
	layout := testLayout(t)
	dedup, index := testStores(t)
	writer := fact.NewWriter(layout, dedup, index)
	merger := NewMerger(layout, writer)
	ctx := context.Background()

	rows := []models.Observation{
		mkObs(t, "MK101", "2026-01-26 10:00:00", 20),
		mkObs(t, "MK101", "2026-01-26 10:05:00", 25),
	}
	writeStagingFile(t, layout, "mk", "2026-01-26", rows)
	if _, err := merger.MergeDate(ctx, "2026-01-26"); err != nil {
		t.Fatal(err)
	}
	firstPass, _, err := fact.ReadFile(layout.FactFilePath("mk", "2026-01-26"))
	if err != nil {
		t.Fatal(err)
	}

	// Re-stage the same rows and merge again: dedup absorbs everything.
	writeStagingFile(t, layout, "mk", "2026-01-26", rows)
	res, err := merger.MergeDate(ctx, "2026-01-26")
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsMerged != 0 {
		t.Errorf("second merge wrote %d rows", res.RowsMerged)
	}
	secondPass, _, err := fact.ReadFile(layout.FactFilePath("mk", "2026-01-26"))
	if err != nil {
		t.Fatal(err)
	}
	if len(firstPass) != len(secondPass) {
		t.Errorf("fact file changed on repeat merge: %d -> %d", len(firstPass), len(secondPass))
	}
}

func TestPreviousParkDate(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	// 03:00 on the 27th belongs to park date the 26th; yesterday is the 25th.
	early := time.Date(2026, 1, 27, 3, 0, 0, 0, loc)
	if got := previousParkDate(early); got != "2026-01-25" {
		t.Errorf("previousParkDate(03:00) = %s", got)
	}
	noon := time.Date(2026, 1, 27, 12, 0, 0, 0, loc)
	if got := previousParkDate(noon); got != "2026-01-26" {
		t.Errorf("previousParkDate(12:00) = %s", got)
	}
}

func hoursTable(t *testing.T, body string) *dimensions.ParkHoursTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hours.csv")
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}
	tbl, err := dimensions.LoadParkHours(path)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestInWindow(t *testing.T) {
	tbl := hoursTable(t,
		"park_date,park_code,version_type,opening_time,closing_time\n"+
			"2026-06-15,mk,published,09:00,21:00\n")
	loc, _ := time.LoadLocation("America/New_York")
	before, after := 90*time.Minute, 90*time.Minute

	cases := []struct {
		clock string
		want  bool
	}{
		{"07:29", false}, // before open-90
		{"07:31", true},
		{"12:00", true},
		{"22:29", true},  // close+90 = 22:30
		{"22:31", false},
	}
	for _, tc := range cases {
		now, err := time.ParseInLocation("2006-01-02 15:04", "2026-06-15 "+tc.clock, loc)
		if err != nil {
			t.Fatal(err)
		}
		if got := InWindow(tbl, "mk", loc, now, before, after); got != tc.want {
			t.Errorf("InWindow at %s = %v, want %v", tc.clock, got, tc.want)
		}
	}

	// Unknown dates are treated as in-window.
	unknown, _ := time.ParseInLocation("2006-01-02 15:04", "2026-07-01 02:00", loc)
	if !InWindow(tbl, "mk", loc, unknown, before, after) {
		t.Error("missing hours row should default to in-window")
	}
}

func TestEntityMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	body := "entity_code,park_code,queue_times_id,queue_times_name\n" +
		"MK101,mk,284,Space Mountain\n" +
		"EP09,ep,103.0,Test Track\n"
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}
	m, err := LoadEntityMapping(path)
	if err != nil {
		t.Fatal(err)
	}
	if code, ok := m.Lookup("mk", 284); !ok || code != "MK101" {
		t.Errorf("lookup = %s,%v", code, ok)
	}
	// Float-encoded IDs resolve too.
	if code, ok := m.Lookup("ep", 103); !ok || code != "EP09" {
		t.Errorf("float id lookup = %s,%v", code, ok)
	}
	if _, ok := m.Lookup("mk", 999); ok {
		t.Error("unmapped ride resolved")
	}

	// A missing file yields an empty mapping, not an error.
	empty, err := LoadEntityMapping(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil || empty.Len() != 0 {
		t.Errorf("missing mapping = %d,%v", empty.Len(), err)
	}
}

func TestPollerStagesNewRows(t *testing.T) {
	lastUpdated := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parks/6/queue_times.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"lands":[{"rides":[
			{"id":284,"name":"Space Mountain","is_open":true,"wait_time":45,"last_updated":"` + lastUpdated + `"},
			{"id":999,"name":"Unmapped Coaster","is_open":true,"wait_time":10,"last_updated":"` + lastUpdated + `"},
			{"id":285,"name":"Closed Ride","is_open":false,"wait_time":0,"last_updated":"` + lastUpdated + `"}
		]}]}`))
	}))
	defer feed.Close()

	layout := testLayout(t)
	dedup, _ := testStores(t)
	loc, _ := time.LoadLocation("America/New_York")

	mappingPath := filepath.Join(t.TempDir(), "mapping.csv")
	if err := os.WriteFile(mappingPath, []byte("entity_code,park_code,queue_times_id\nMK101,mk,284\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	mapping, err := LoadEntityMapping(mappingPath)
	if err != nil {
		t.Fatal(err)
	}

	poller := NewPoller(PollerConfig{
		Interval:       time.Minute,
		ParkMap:        map[int]string{6: "mk"},
		ParkZones:      map[string]*time.Location{"mk": loc},
		StaleAfter:     24 * time.Hour,
		UseHoursFilter: false,
	}, NewFeedClient(feed.URL, 5*time.Second, 100), layout, dedup, nil, mapping)

	staged, err := poller.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if staged != 1 {
		t.Fatalf("staged = %d, want 1 (mapped+open only)", staged)
	}

	// Repeated poll of the same value does not re-stage.
	staged, err = poller.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if staged != 0 {
		t.Errorf("second cycle staged = %d, want 0", staged)
	}

	// The row landed in staging, not fact.
	matches, err := filepath.Glob(filepath.Join(layout.StagingDir(), "*", "mk_*.csv"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("staging files = %v (%v)", matches, err)
	}
	obs, _, err := fact.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 1 || obs[0].EntityCode != "MK101" || obs[0].Minutes != 45 {
		t.Errorf("staged rows = %+v", obs)
	}
	factFiles, _ := filepath.Glob(filepath.Join(layout.FactDir(), "*", "*.csv"))
	if len(factFiles) != 0 {
		t.Errorf("poller wrote into fact/: %v", factFiles)
	}

	// Unmapped ride was reported.
	report, err := os.ReadFile(filepath.Join(layout.ReportsDir(), "queue_times_unmapped.csv"))
	if err != nil {
		t.Fatalf("unmapped report: %v", err)
	}
	if !bytes.Contains(report, []byte("999")) {
		t.Errorf("unmapped report missing ride: %s", report)
	}
}
