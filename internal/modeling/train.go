// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/parkwaits/internal/config"
	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// Deps bundles what the training workflow needs. Trainer may be nil; every
// entity then records a mean model.
type Deps struct {
	Layout    state.Layout
	Index     *state.EntityIndex
	Directory *dimensions.EntityDirectory
	Dims      FeatureDims
	Encoder   *LabelEncoder
	Trainer   RegressorTrainer
	Cfg       config.ModelingConfig
}

// TargetOf resolves an entity's modeling target: PRIORITY for
// priority-queue entities, ACTUAL otherwise.
func (d *Deps) TargetOf(entityCode string) models.WaitTimeType {
	if d.Directory != nil && d.Directory.HasPriorityQueue(entityCode) {
		return models.WaitTypePriority
	}
	return models.WaitTypeActual
}

// Outcome is the terminal state of one entity's training.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeMeanModel Outcome = "mean_model"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

// TrainEntity runs the full per-entity workflow: load rows, build features,
// encode, train (or fall back to the mean model), persist artifacts, and
// stamp last_modeled_at.
func TrainEntity(ctx context.Context, deps *Deps, entityCode string, sampleLimit int) (Outcome, error) {
	log := logging.Component("training").With().Str("entity", entityCode).Logger()
	start := time.Now()

	obs, err := fact.Load(deps.Layout, entityCode)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load entity rows: %w", err)
	}
	if sampleLimit > 0 && len(obs) > sampleLimit {
		obs = obs[len(obs)-sampleLimit:]
	}
	if err := ctx.Err(); err != nil {
		return OutcomeTimeout, err
	}

	target := deps.TargetOf(entityCode)
	rows := BuildFeatures(obs, target, deps.Dims, time.Now().UTC())
	log.Info().
		Int("rows", len(obs)).
		Int("target_rows", len(rows)).
		Str("target", string(target)).
		Msg("Feature table built")

	modelDir := deps.Layout.ModelDir(entityCode)
	if err := os.MkdirAll(modelDir, 0o750); err != nil {
		return OutcomeFailed, fmt.Errorf("create model dir: %w", err)
	}

	md := Metadata{
		EntityCode: entityCode,
		TargetType: string(target),
		CreatedAt:  time.Now().UTC(),
	}

	if len(rows) < deps.Cfg.MinObservations || deps.Trainer == nil {
		outcome, err := recordMeanModel(rows, modelDir, md, log)
		if err != nil {
			return OutcomeFailed, err
		}
		return outcome, deps.Index.MarkModeled(entityCode, time.Now().UTC())
	}

	variants := []struct {
		name          string
		includePosted bool
	}{
		{VariantWithoutPosted, false},
	}
	if target == models.WaitTypeActual {
		variants = append(variants, struct {
			name          string
			includePosted bool
		}{VariantWithPosted, true})
	}

	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return OutcomeTimeout, err
		}
		ds := EncodeRows(rows, deps.Encoder, v.includePosted)
		split := SplitByDate(ds, deps.Cfg.TrainRatio, deps.Cfg.ValRatio)
		model, err := deps.Trainer.Train(ctx, split, deps.Cfg.Hyperparams)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeTimeout, ctx.Err()
			}
			return OutcomeFailed, fmt.Errorf("train %s: %w", v.name, err)
		}
		if err := deps.Trainer.Save(model, modelDir, v.name); err != nil {
			return OutcomeFailed, fmt.Errorf("save %s: %w", v.name, err)
		}
		md.Variants = append(md.Variants, v.name)
		if md.FeatureNames == nil {
			md.FeatureNames = ds.FeatureNames
		}
		if md.FeatureNamesByVariant == nil {
			md.FeatureNamesByVariant = make(map[string][]string)
		}
		md.FeatureNamesByVariant[v.name] = ds.FeatureNames
		md.TrainRows = split.Train.Len()
		md.ValRows = split.Val.Len()
		md.TestRows = split.Test.Len()
		if split.Train.Len() > 0 {
			md.TrainStart = split.Train.ParkDates[0]
			md.TrainEnd = split.Train.ParkDates[split.Train.Len()-1]
		}
	}
	md.ChosenVariant = VariantWithoutPosted
	if target == models.WaitTypeActual {
		md.ChosenVariant = VariantWithPosted
	}

	if err := SaveMetadata(modelDir, md); err != nil {
		return OutcomeFailed, err
	}
	if err := deps.Encoder.Save(); err != nil {
		return OutcomeFailed, fmt.Errorf("save encoding mappings: %w", err)
	}
	log.Info().
		Dur("elapsed", time.Since(start)).
		Strs("variants", md.Variants).
		Msg("Entity models trained")
	return OutcomeDone, deps.Index.MarkModeled(entityCode, time.Now().UTC())
}

// recordMeanModel persists the fallback model for a thin entity.
func recordMeanModel(rows []FeatureRow, modelDir string, md Metadata, log zerolog.Logger) (Outcome, error) {
	var sum float64
	for _, r := range rows {
		sum += r.Target
	}
	mean := 0.0
	if len(rows) > 0 {
		mean = sum / float64(len(rows))
	}
	if err := SaveMeanModel(modelDir, MeanModel{Mean: mean, Count: len(rows)}); err != nil {
		return OutcomeFailed, err
	}
	md.MeanFallback = true
	md.ChosenVariant = "mean"
	if err := SaveMetadata(modelDir, md); err != nil {
		return OutcomeFailed, err
	}
	log.Info().Float64("mean", mean).Int("count", len(rows)).Msg("Recorded mean model")
	return OutcomeMeanModel, nil
}
