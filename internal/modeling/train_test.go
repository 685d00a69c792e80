// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/parkwaits/internal/config"
	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// stubTrainer is the test RegressorTrainer: it records calls and returns a
// constant-prediction model persisted as a JSON artifact.
type stubTrainer struct {
	trained []string
	failAll bool
}

type stubModel struct{ value float64 }

func (m stubModel) Predict([]float64) float64 { return m.value }

func (s *stubTrainer) Train(ctx context.Context, split Split, hp config.Hyperparams) (Model, error) {
	if s.failAll {
		return nil, fmt.Errorf("trainer unavailable")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.trained = append(s.trained, fmt.Sprintf("rows=%d", split.Train.Len()))
	return stubModel{value: 42}, nil
}

func (s *stubTrainer) Save(model Model, dir, name string) error {
	return state.WriteFileAtomic(filepath.Join(dir, "model_"+name+".json"), []byte(`{"stub":true}`), 0o640)
}

func (s *stubTrainer) Load(dir, name string) (Model, error) {
	return stubModel{value: 42}, nil
}

func newTrainFixture(t *testing.T, minObs int, trainer RegressorTrainer) *Deps {
	t.Helper()
	db, err := state.OpenBadgerInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	layout := state.NewLayout(t.TempDir())
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	index, err := state.NewEntityIndex(db)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := LoadLabelEncoder(layout.EncodingMappingsPath())
	if err != nil {
		t.Fatal(err)
	}
	dir := dimensions.NewEntityDirectory([]dimensions.EntityRow{
		{Code: "MK101", ParkCode: "mk", Name: "Space Mountain"},
		{Code: "AK01", ParkCode: "ak", Name: "Flight of Passage", HasPriorityQueue: true},
	})
	return &Deps{
		Layout:    layout,
		Index:     index,
		Directory: dir,
		Dims:      FeatureDims{},
		Encoder:   enc,
		Trainer:   trainer,
		Cfg: config.ModelingConfig{
			MinObservations: minObs,
			WorkersCap:      4,
			EntityTimeout:   time.Minute,
			TrainRatio:      0.7,
			ValRatio:        0.15,
			Hyperparams: config.Hyperparams{
				Objective: "reg:absoluteerror", MaxDepth: 6, LearningRate: 0.1,
				Rounds: 10, Subsample: 0.5, MinChildWeight: 10,
			},
		},
	}
}

// seedEntity writes n rows spread across dates for one entity. Each call
// uses its own throwaway dedup store; dedup is not what these tests probe.
func seedEntity(t *testing.T, deps *Deps, entity string, typ models.WaitTimeType, n int) {
	t.Helper()
	db, err := state.OpenBadgerInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	writer := fact.NewWriter(deps.Layout, state.NewDedupSet(db), deps.Index)
	loc, _ := time.LoadLocation("America/New_York")
	var obs []models.Observation
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, loc)
	for i := 0; i < n; i++ {
		obs = append(obs, models.Observation{
			EntityCode: entity,
			ObservedAt: base.AddDate(0, 0, i/10).Add(time.Duration(i%10) * 13 * time.Minute),
			Type:       typ,
			Minutes:    10 + i%40,
		})
	}
	if _, err := writer.WriteBatch(context.Background(), obs); err != nil {
		t.Fatal(err)
	}
}

func TestTrainEntityMeanFallback(t *testing.T) {
	trainer := &stubTrainer{}
	deps := newTrainFixture(t, 500, trainer)
	seedEntity(t, deps, "MK101", models.WaitTypeActual, 50)

	outcome, err := TrainEntity(context.Background(), deps, "MK101", 0)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeMeanModel {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(trainer.trained) != 0 {
		t.Error("boosted trainer invoked below observation floor")
	}

	mm, ok, err := LoadMeanModel(deps.Layout.ModelDir("MK101"))
	if err != nil || !ok {
		t.Fatalf("mean model missing: %v %v", ok, err)
	}
	if mm.Count != 50 {
		t.Errorf("mean model count = %d", mm.Count)
	}
	md, ok, err := LoadMetadata(deps.Layout.ModelDir("MK101"))
	if err != nil || !ok || !md.MeanFallback {
		t.Errorf("metadata = %+v %v %v", md, ok, err)
	}

	rec, err := deps.Index.Get("MK101")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastModeledAt == nil {
		t.Error("last_modeled_at not stamped")
	}
}

func TestTrainEntityBothVariantsForActual(t *testing.T) {
	trainer := &stubTrainer{}
	deps := newTrainFixture(t, 10, trainer)
	seedEntity(t, deps, "MK101", models.WaitTypeActual, 100)

	outcome, err := TrainEntity(context.Background(), deps, "MK101", 0)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(trainer.trained) != 2 {
		t.Errorf("variants trained = %d, want 2 (with and without posted)", len(trainer.trained))
	}
	md, ok, err := LoadMetadata(deps.Layout.ModelDir("MK101"))
	if err != nil || !ok {
		t.Fatal(err)
	}
	if len(md.Variants) != 2 || md.ChosenVariant != VariantWithPosted {
		t.Errorf("metadata variants = %+v", md)
	}
}

func TestTrainEntityPriorityOnlyWithoutPosted(t *testing.T) {
	trainer := &stubTrainer{}
	deps := newTrainFixture(t, 10, trainer)
	seedEntity(t, deps, "AK01", models.WaitTypePriority, 100)

	outcome, err := TrainEntity(context.Background(), deps, "AK01", 0)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(trainer.trained) != 1 {
		t.Errorf("variants trained = %d, want 1 for PRIORITY target", len(trainer.trained))
	}
	md, _, err := LoadMetadata(deps.Layout.ModelDir("AK01"))
	if err != nil {
		t.Fatal(err)
	}
	if md.ChosenVariant != VariantWithoutPosted || md.TargetType != string(models.WaitTypePriority) {
		t.Errorf("metadata = %+v", md)
	}
}

func TestTrainBatchContinuesOnFailure(t *testing.T) {
	trainer := &stubTrainer{failAll: true}
	deps := newTrainFixture(t, 10, trainer)
	seedEntity(t, deps, "MK101", models.WaitTypeActual, 100)
	seedEntity(t, deps, "AK01", models.WaitTypePriority, 100)

	status := state.NewStatusRecorder(filepath.Join(t.TempDir(), "pipeline_status.json"))
	res, err := TrainBatch(context.Background(), deps, status, BatchOptions{
		MinObservations: 10,
		Workers:         2,
		EntityTimeout:   time.Minute,
	})
	if err != nil {
		t.Fatalf("batch should absorb failures: %v", err)
	}
	if res.Failed != 2 || res.Done != 0 {
		t.Errorf("failed/done = %d/%d", res.Failed, res.Done)
	}

	// With --stop-on-error the batch still runs everything but exits nonzero.
	_, err = TrainBatch(context.Background(), deps, status, BatchOptions{
		MinObservations: 10,
		Workers:         2,
		EntityTimeout:   time.Minute,
		StopOnError:     true,
	})
	if err == nil {
		t.Error("stop-on-error did not surface failures")
	}
}

func TestTrainBatchPrioritySort(t *testing.T) {
	deps := newTrainFixture(t, 10, &stubTrainer{})
	now := time.Now().UTC().Add(-2 * time.Hour)
	recs := []state.EntityRecord{
		{EntityCode: "IA05", ActualCount: 9000, LatestObservedAt: now},
		{EntityCode: "MK101", ActualCount: 100, LatestObservedAt: now},
		{EntityCode: "MK102", ActualCount: 900, LatestObservedAt: now},
		{EntityCode: "EP09", ActualCount: 5000, LatestObservedAt: now},
	}
	sortByPriority(recs, deps)
	got := []string{recs[0].EntityCode, recs[1].EntityCode, recs[2].EntityCode, recs[3].EntityCode}
	want := []string{"MK102", "MK101", "EP09", "IA05"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("priority order = %v, want %v", got, want)
		}
	}
}
