// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package curves

import (
	"fmt"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/modeling"
	"github.com/tomtom215/parkwaits/internal/state"
)

// EntityPredictor resolves per-slot actual predictions for one entity from
// its persisted artifacts: a trained variant when present, otherwise the
// recorded mean model.
type EntityPredictor struct {
	entityCode   string
	meta         modeling.Metadata
	featureNames []string
	model        modeling.Model
	mean         *modeling.MeanModel
	encoder      *modeling.LabelEncoder
}

// LoadEntityPredictor opens the artifacts for one entity and variant. The
// second return is false when the entity has never been modeled.
func LoadEntityPredictor(layout state.Layout, trainer modeling.RegressorTrainer, encoder *modeling.LabelEncoder, entityCode, variant string) (*EntityPredictor, bool, error) {
	dir := layout.ModelDir(entityCode)

	meta, hasMeta, err := modeling.LoadMetadata(dir)
	if err != nil {
		return nil, false, err
	}
	mm, hasMean, err := modeling.LoadMeanModel(dir)
	if err != nil {
		return nil, false, err
	}
	if !hasMeta && !hasMean {
		return nil, false, nil
	}

	p := &EntityPredictor{entityCode: entityCode, meta: meta, encoder: encoder}
	p.featureNames = meta.FeatureNames
	if names, ok := meta.FeatureNamesByVariant[variant]; ok {
		p.featureNames = names
	}
	if hasMean {
		p.mean = &mm
	}
	if hasMeta && !meta.MeanFallback && trainer != nil {
		model, err := trainer.Load(dir, variant)
		if err == nil {
			p.model = model
		}
	}
	if p.model == nil && p.mean == nil {
		return nil, false, nil
	}
	return p, true, nil
}

// slotFeatures describes one 5-minute slot to the model, in the persisted
// metadata's feature order.
type slotFeatures struct {
	MinsSince6AM int
	DategroupID  *int
	Season       *string
	SeasonYear   *int
	ParkCode     string
	Hours        *dimensions.ParkHours
	SlotMin      int
	PostedWait   *float64
}

// Predict returns the actual prediction for a slot, or false when no
// predictor applies.
func (p *EntityPredictor) Predict(sf slotFeatures) (float64, bool) {
	if p.model == nil {
		if p.mean == nil {
			return 0, false
		}
		return p.mean.Mean, true
	}

	vals := map[string]float64{
		"pred_mins_since_6am": float64(sf.MinsSince6AM),
		"pred_dategroupid":    encodeOrMissing(p.encoder, "pred_dategroupid", intStr(sf.DategroupID)),
		"pred_season":         encodeOrMissing(p.encoder, "pred_season", deref(sf.Season)),
		"pred_season_year":    encodeOrMissing(p.encoder, "pred_season_year", intStr(sf.SeasonYear)),
		"park_code":           float64(p.encoder.Encode("park_code", sf.ParkCode)),
		"entity_code":         float64(p.encoder.Encode("entity_code", p.entityCode)),
	}
	if sf.Hours != nil {
		sinceOpen := sf.SlotMin - sf.Hours.OpenMin
		if sinceOpen < 0 {
			sinceOpen += 24 * 60
		}
		vals["pred_mins_since_park_open"] = float64(sinceOpen)
		vals["pred_park_open_hour"] = float64(sf.Hours.OpenMin) / 60
		vals["pred_park_close_hour"] = float64(sf.Hours.CloseMin) / 60
		vals["pred_park_hours_open"] = sf.Hours.HoursOpen()
	}
	if sf.PostedWait != nil {
		vals["posted_wait_time"] = *sf.PostedWait
	}

	features := make([]float64, len(p.featureNames))
	for i, name := range p.featureNames {
		features[i] = vals[name]
	}
	return p.model.Predict(features), true
}

// HasTrainedModel reports whether a boosted artifact (not just the mean) is
// loaded.
func (p *EntityPredictor) HasTrainedModel() bool { return p.model != nil }

func encodeOrMissing(enc *modeling.LabelEncoder, column, category string) float64 {
	if category == "" {
		return -1
	}
	return float64(enc.Encode(column, category))
}

func intStr(p *int) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%d", *p)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
