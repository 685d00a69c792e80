// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/parkwaits/internal/config"
	"github.com/tomtom215/parkwaits/internal/state"
)

// Dataset is a columnar training table. ParkDates parallels the rows and
// drives the chronological split.
type Dataset struct {
	FeatureNames []string
	Features     [][]float64
	Target       []float64
	Weights      []float64
	ParkDates    []string
}

// Len returns the number of examples.
func (d Dataset) Len() int { return len(d.Features) }

// Split is the chronological train/validation/test partition of a dataset.
type Split struct {
	Train, Val, Test Dataset
}

// Model predicts a target value from one feature vector.
type Model interface {
	Predict(features []float64) float64
}

// RegressorTrainer abstracts the gradient boosting library. The library
// itself is an external collaborator; runs without one fall back to mean
// models.
type RegressorTrainer interface {
	// Train fits one model on the split with the given hyperparameters.
	Train(ctx context.Context, split Split, hp config.Hyperparams) (Model, error)

	// Save persists a trained model artifact into dir under name.
	Save(model Model, dir, name string) error

	// Load restores a previously saved artifact.
	Load(dir, name string) (Model, error)
}

// Variant names the two boosted model flavors.
const (
	VariantWithPosted    = "with_posted"
	VariantWithoutPosted = "without_posted"
)

// MeanModel is the fallback predictor for entities with too few target
// observations: it records only the mean and the count.
type MeanModel struct {
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// Predict implements Model.
func (m MeanModel) Predict([]float64) float64 { return m.Mean }

const meanModelFile = "mean_model.json"

// SaveMeanModel writes the fallback model into the entity's model directory.
func SaveMeanModel(dir string, m MeanModel) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mean model: %w", err)
	}
	return state.WriteFileAtomic(filepath.Join(dir, meanModelFile), data, 0o640)
}

// LoadMeanModel reads the fallback model; the second return is false when
// none exists.
func LoadMeanModel(dir string) (MeanModel, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, meanModelFile))
	if os.IsNotExist(err) {
		return MeanModel{}, false, nil
	}
	if err != nil {
		return MeanModel{}, false, err
	}
	var m MeanModel
	if err := json.Unmarshal(data, &m); err != nil {
		return MeanModel{}, false, fmt.Errorf("decode mean model: %w", err)
	}
	return m, true, nil
}

// Metadata describes one entity's persisted models.
type Metadata struct {
	EntityCode    string    `json:"entity_code"`
	TargetType    string    `json:"target_type"`
	Variants      []string  `json:"variants"`
	ChosenVariant string    `json:"chosen_variant"`
	FeatureNames  []string  `json:"feature_names"`
	// FeatureNamesByVariant records each variant's exact input order; the
	// with-posted variant carries one extra column.
	FeatureNamesByVariant map[string][]string `json:"feature_names_by_variant,omitempty"`
	TrainRows     int       `json:"train_rows"`
	ValRows       int       `json:"val_rows"`
	TestRows      int       `json:"test_rows"`
	TrainStart    string    `json:"train_start,omitempty"`
	TrainEnd      string    `json:"train_end,omitempty"`
	MeanFallback  bool      `json:"mean_fallback"`
	CreatedAt     time.Time `json:"created_at"`
}

const metadataFile = "metadata.json"

// SaveMetadata writes the entity model metadata.
func SaveMetadata(dir string, md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model metadata: %w", err)
	}
	return state.WriteFileAtomic(filepath.Join(dir, metadataFile), data, 0o640)
}

// LoadMetadata reads the entity model metadata; false when absent.
func LoadMetadata(dir string) (Metadata, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if os.IsNotExist(err) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, false, fmt.Errorf("decode model metadata: %w", err)
	}
	return md, true, nil
}

// SplitByDate partitions a dataset chronologically by park date. Dates are
// split, not rows, so no date straddles two partitions.
func SplitByDate(ds Dataset, trainRatio, valRatio float64) Split {
	seen := make(map[string]struct{})
	var dates []string
	for _, d := range ds.ParkDates {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	trainEnd := int(float64(len(dates)) * trainRatio)
	valEnd := int(float64(len(dates)) * (trainRatio + valRatio))
	part := make(map[string]int, len(dates))
	for i, d := range dates {
		switch {
		case i < trainEnd:
			part[d] = 0
		case i < valEnd:
			part[d] = 1
		default:
			part[d] = 2
		}
	}

	out := Split{
		Train: Dataset{FeatureNames: ds.FeatureNames},
		Val:   Dataset{FeatureNames: ds.FeatureNames},
		Test:  Dataset{FeatureNames: ds.FeatureNames},
	}
	for i := range ds.Features {
		var dst *Dataset
		switch part[ds.ParkDates[i]] {
		case 0:
			dst = &out.Train
		case 1:
			dst = &out.Val
		default:
			dst = &out.Test
		}
		dst.Features = append(dst.Features, ds.Features[i])
		dst.Target = append(dst.Target, ds.Target[i])
		dst.Weights = append(dst.Weights, ds.Weights[i])
		dst.ParkDates = append(dst.ParkDates, ds.ParkDates[i])
	}
	return out
}
