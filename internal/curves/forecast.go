// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package curves

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/modeling"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// MaxForecastHorizon bounds how far ahead forecast curves are generated.
const MaxForecastHorizon = 2 * 365 * 24 * time.Hour

// ForecastDeps bundles what forecast generation needs.
type ForecastDeps struct {
	Layout     state.Layout
	Hours      *dimensions.ParkHoursTable
	Dategroups map[string]int
	Seasons    map[string]dimensions.SeasonRow
	Posted     *modeling.PostedLookup
	Encoder    *modeling.LabelEncoder
	Trainer    modeling.RegressorTrainer
}

// forecastHeader is the curve file schema.
var forecastHeader = "entity_code,park_date,time_slot,actual_predicted,posted_predicted\n"

// GenerateForecast writes one forecast curve per (entity, park_date) for
// every date in [from, to] where the park has operating hours. Days without
// hours are skipped entirely; within an operating window every slot gets a
// posted prediction from the aggregates and an actual prediction from the
// without-POSTED model (or the mean model).
func GenerateForecast(ctx context.Context, deps ForecastDeps, entityCodes []string, from, to time.Time) (int, error) {
	if to.Sub(from) > MaxForecastHorizon {
		to = from.Add(MaxForecastHorizon)
	}
	now := time.Now().UTC()

	files := 0
	for _, entity := range entityCodes {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		pred, ok, err := LoadEntityPredictor(deps.Layout, deps.Trainer, deps.Encoder, entity, modeling.VariantWithoutPosted)
		if err != nil {
			return files, fmt.Errorf("load predictor %s: %w", entity, err)
		}
		if !ok {
			logging.Debug().Str("entity", entity).Msg("No model artifacts, skipping forecast")
			continue
		}
		park := models.ParkFromEntity(entity)

		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			parkDate := day.Format(models.ParkDateLayout)
			hours, ok := deps.Hours.Lookup(parkDate, park, now)
			if !ok {
				continue // park closed per operating hours
			}
			rows, err := forecastDay(deps, pred, entity, parkDate, hours)
			if err != nil {
				return files, err
			}
			path := deps.Layout.CurvePath("forecast", entity, parkDate)
			if err := state.WriteFileAtomic(path, rows, 0o640); err != nil {
				return files, err
			}
			files++
		}
	}
	logging.Info().Int("files", files).Msg("Forecast curves written")
	return files, nil
}

func forecastDay(deps ForecastDeps, pred *EntityPredictor, entity, parkDate string, hours dimensions.ParkHours) ([]byte, error) {
	var dategroupID *int
	if id, ok := deps.Dategroups[parkDate]; ok {
		dategroupID = &id
	}
	var season *string
	var seasonYear *int
	if s, ok := deps.Seasons[parkDate]; ok {
		season = &s.Season
		seasonYear = &s.SeasonYear
	}

	var buf bytes.Buffer
	buf.WriteString(forecastHeader)
	for _, slot := range Slots(hours.OpenMin, hours.CloseMin) {
		posted := ""
		var postedVal *float64
		if deps.Posted != nil && dategroupID != nil {
			if v, ok := deps.Posted.PredictedPosted(entity, *dategroupID, slot.Hour()); ok {
				// Posted waits display in 5-minute steps.
				rounded := math.Round(v/5) * 5
				posted = strconv.Itoa(int(rounded))
				postedVal = &rounded
			}
		}

		actual := ""
		if v, ok := pred.Predict(slotFeatures{
			MinsSince6AM: minsSince6AMOfSlot(int(slot)),
			DategroupID:  dategroupID,
			Season:       season,
			SeasonYear:   seasonYear,
			ParkCode:     models.ParkFromEntity(entity),
			Hours:        &hours,
			SlotMin:      int(slot),
			PostedWait:   postedVal,
		}); ok {
			actual = strconv.FormatFloat(math.Max(0, v), 'f', 1, 64)
		}

		fmt.Fprintf(&buf, "%s,%s,%s,%s,%s\n", entity, parkDate, slot.Clock(), actual, posted)
	}
	return buf.Bytes(), nil
}

// minsSince6AMOfSlot maps slot minutes-since-midnight onto the operational
// clock.
func minsSince6AMOfSlot(slotMin int) int {
	return ((slotMin % (24 * 60)) - 360 + 1440) % 1440
}
