// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/parkwaits/internal/models"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "status.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o640); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o640); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files in dir: %d entries", len(entries))
	}
}

func TestFileLockExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	first := NewFileLock(path, "ingest")
	if err := first.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second := NewFileLock(path, "ingest")
	err := second.Acquire()
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second acquire err = %v, want ErrLockHeld", err)
	}

	first.Release()
	if err := second.Acquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	second.Release()
}

func TestFileLockStaleTakeover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.lock")
	if err := os.WriteFile(path, []byte("PID: 1\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	l := NewFileLock(path, "ingest")
	if err := l.Acquire(); err != nil {
		t.Fatalf("acquire over stale lock: %v", err)
	}
	l.Release()
}

func TestProcessedCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_files.json")
	marker := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	c, err := LoadProcessedCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.IsProcessed("export/wait_times/wdw/a.csv", marker) {
		t.Error("empty catalog reported key processed")
	}
	c.MarkProcessed("export/wait_times/wdw/a.csv", marker)
	if err := c.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	c2, err := LoadProcessedCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if !c2.IsProcessed("export/wait_times/wdw/a.csv", marker) {
		t.Error("reloaded catalog lost entry")
	}
	// A newer source marker means the key is no longer considered processed.
	if c2.IsProcessed("export/wait_times/wdw/a.csv", marker.Add(time.Hour)) {
		t.Error("changed marker still reported processed")
	}
}

func TestFailureTallyQuarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed_files.json")
	tally, err := LoadFailureTally(path, 3, 600)
	if err != nil {
		t.Fatal(err)
	}

	oldSource := time.Now().Add(-601 * 24 * time.Hour)
	freshSource := time.Now().Add(-24 * time.Hour)
	key := "export/fastpass_times/wdw/fp_2014.csv"

	for i := 0; i < 2; i++ {
		tally.RecordFailure(key, oldSource, errors.New("bad year"))
	}
	if tally.Quarantined(key, oldSource) {
		t.Error("quarantined below threshold")
	}
	tally.RecordFailure(key, oldSource, errors.New("bad year"))
	if !tally.Quarantined(key, oldSource) {
		t.Error("not quarantined at threshold with old source")
	}
	if tally.Quarantined(key, freshSource) {
		t.Error("quarantined despite fresh source object")
	}

	tally.ClearFailure(key)
	if tally.Quarantined(key, oldSource) {
		t.Error("quarantined after clear")
	}

	if err := tally.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	reloaded, err := LoadFailureTally(path, 3, 600)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 0 {
		t.Errorf("reloaded tally has %d entries, want 0", reloaded.Len())
	}
}

func TestStatusRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_status.json")
	rec := NewStatusRecorder(path)

	if err := rec.StepRunning("ingest"); err != nil {
		t.Fatal(err)
	}
	if err := rec.StepFailed("ingest", errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	// Only the first error text is kept.
	if err := rec.StepFailed("ingest", errors.New("later")); err != nil {
		t.Fatal(err)
	}

	s, err := ReadStatus(path)
	if err != nil {
		t.Fatal(err)
	}
	if s == nil {
		t.Fatal("status missing after writes")
	}
	if s.Steps["ingest"].State != StepFailed {
		t.Errorf("ingest state = %s", s.Steps["ingest"].State)
	}
	if s.Steps["ingest"].Error != "boom" {
		t.Errorf("ingest error = %q, want first error kept", s.Steps["ingest"].Error)
	}
	if s.Sequence < 3 {
		t.Errorf("sequence = %d, want monotonically increasing", s.Sequence)
	}

	missing, err := ReadStatus(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || missing != nil {
		t.Errorf("missing status = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestStatusEntityProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_status.json")
	rec := NewStatusRecorder(path)

	entities := []EntityStatus{
		{Code: "MK101", Name: "MK101", Status: "pending"},
		{Code: "EP09", Name: "EP09", Status: "pending"},
	}
	if err := rec.SetEntities(entities, 4); err != nil {
		t.Fatal(err)
	}
	if err := rec.SetEntityStatus("MK101", "running"); err != nil {
		t.Fatal(err)
	}
	if err := rec.SetEntityStatus("MK101", "done"); err != nil {
		t.Fatal(err)
	}
	if err := rec.SetEntityStatus("EP09", "timeout"); err != nil {
		t.Fatal(err)
	}

	s := rec.Snapshot()
	if s.EntitiesDone != 2 || s.EntitiesTotal != 2 {
		t.Errorf("done/total = %d/%d", s.EntitiesDone, s.EntitiesTotal)
	}
	if s.Entities[1].Status != "timeout" {
		t.Errorf("EP09 status = %s", s.Entities[1].Status)
	}
}

func obsAt(t *testing.T, entity string, hhmm string, typ models.WaitTimeType, mins int) models.Observation {
	t.Helper()
	loc, _ := time.LoadLocation("America/New_York")
	at, err := time.ParseInLocation("2006-01-02 15:04", "2024-01-15 "+hhmm, loc)
	if err != nil {
		t.Fatal(err)
	}
	return models.Observation{EntityCode: entity, ObservedAt: at, Type: typ, Minutes: mins}
}

func TestDedupSetInsertBatch(t *testing.T) {
	db, err := OpenBadgerInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	set := NewDedupSet(db)

	batch := []models.Observation{
		obsAt(t, "MK101", "10:30", models.WaitTypePosted, 35),
		obsAt(t, "MK101", "10:30", models.WaitTypeActual, 40),
		obsAt(t, "MK101", "10:30", models.WaitTypePosted, 35), // dup within batch
	}
	mask, err := set.InsertBatch(batch)
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, true, false}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}

	// Re-inserting the same batch yields all duplicates.
	mask, err = set.InsertBatch(batch)
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range mask {
		if m {
			t.Errorf("mask[%d] = true on re-insert", i)
		}
	}

	n, err := set.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("len = %d, want 2", n)
	}

	if err := set.Clear(); err != nil {
		t.Fatal(err)
	}
	n, _ = set.Len()
	if n != 0 {
		t.Errorf("len after clear = %d", n)
	}
}

func TestEntityIndexRecordBatch(t *testing.T) {
	db, err := OpenBadgerInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	idx, err := NewEntityIndex(db)
	if err != nil {
		t.Fatal(err)
	}

	first := time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC)
	if err := idx.RecordBatch("MK101", BatchDelta{
		MaxParkDate: "2024-01-15", MaxObservedAt: first, Posted: 1, Actual: 1,
	}); err != nil {
		t.Fatal(err)
	}
	later := first.Add(24 * time.Hour)
	if err := idx.RecordBatch("MK101", BatchDelta{
		MaxParkDate: "2024-01-16", MaxObservedAt: later, Posted: 2,
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := idx.Get("MK101")
	if err != nil {
		t.Fatal(err)
	}
	if rec.PostedCount != 3 || rec.ActualCount != 1 || rec.RowCount != 4 {
		t.Errorf("counts = posted %d actual %d rows %d", rec.PostedCount, rec.ActualCount, rec.RowCount)
	}
	if rec.LatestParkDate != "2024-01-16" || !rec.LatestObservedAt.Equal(later) {
		t.Errorf("watermarks = %s / %v", rec.LatestParkDate, rec.LatestObservedAt)
	}
	if rec.FirstSeenAt.IsZero() || rec.LastModeledAt != nil {
		t.Error("lifecycle fields wrong on fresh record")
	}

	if _, err := idx.Get("EP09"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("missing entity err = %v", err)
	}
}

func TestEntityIndexListForModeling(t *testing.T) {
	db, err := OpenBadgerInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	idx, err := NewEntityIndex(db)
	if err != nil {
		t.Fatal(err)
	}

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC().Add(-10 * time.Minute)

	seed := func(code string, at time.Time, actual, priority int64) {
		t.Helper()
		if err := idx.RecordBatch(code, BatchDelta{
			MaxParkDate:   models.ParkDate(at),
			MaxObservedAt: at,
			Actual:        actual,
			Priority:      priority,
		}); err != nil {
			t.Fatal(err)
		}
	}
	seed("MK101", old, 600, 0)  // eligible
	seed("EP09", fresh, 600, 0) // too fresh when minAge set
	seed("AK01", old, 0, 600)   // priority target, eligible
	seed("TDS36", old, 3, 0)    // below min target count

	targetOf := func(code string) models.WaitTimeType {
		if code == "AK01" {
			return models.WaitTypePriority
		}
		return models.WaitTypeActual
	}

	got, err := idx.ListForModeling(time.Hour, 500, targetOf)
	if err != nil {
		t.Fatal(err)
	}
	codes := make(map[string]bool, len(got))
	for _, r := range got {
		codes[r.EntityCode] = true
	}
	if !codes["MK101"] || !codes["AK01"] {
		t.Errorf("eligible set missing entities: %v", codes)
	}
	if codes["EP09"] {
		t.Error("fresh entity not excluded by min age")
	}
	if codes["TDS36"] {
		t.Error("low-count entity not excluded")
	}

	// Modeled entities with no newer observations drop off the list.
	if err := idx.MarkModeled("MK101", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	got, err = idx.ListForModeling(time.Hour, 500, targetOf)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range got {
		if r.EntityCode == "MK101" {
			t.Error("modeled entity still listed")
		}
	}
}

func TestEntityIndexReplaceAll(t *testing.T) {
	db, err := OpenBadgerInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	idx, err := NewEntityIndex(db)
	if err != nil {
		t.Fatal(err)
	}

	if err := idx.RecordBatch("MK101", BatchDelta{MaxParkDate: "2024-01-15", MaxObservedAt: time.Now(), Posted: 5}); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	rebuilt := []EntityRecord{
		{EntityCode: "EP09", LatestParkDate: "2024-02-01", LatestObservedAt: now, RowCount: 10, ActualCount: 10, FirstSeenAt: now, UpdatedAt: now},
	}
	if err := idx.ReplaceAll(rebuilt); err != nil {
		t.Fatal(err)
	}

	all, err := idx.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].EntityCode != "EP09" {
		t.Errorf("rebuilt index = %+v", all)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/data/parkwaits")
	if got := l.FactFilePath("mk", "2024-01-15"); got != "/data/parkwaits/fact/clean/2024-01/mk_2024-01-15.csv" {
		t.Errorf("fact path = %s", got)
	}
	if got := l.StagingFilePath("ep", "2026-01-26"); got != "/data/parkwaits/staging/live/2026-01/ep_2026-01-26.csv" {
		t.Errorf("staging path = %s", got)
	}
	if got := l.CurvePath("forecast", "AK01", "2026-06-15"); got != "/data/parkwaits/curves/forecast/AK01_2026-06-15.csv" {
		t.Errorf("curve path = %s", got)
	}
}
