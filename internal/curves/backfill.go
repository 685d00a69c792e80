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
	"sort"
	"strconv"
	"time"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/modeling"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// Backfill sources.
const (
	SourceObserved = "observed"
	SourceImputed  = "imputed"
)

// BackfillDeps bundles what backfill generation needs.
type BackfillDeps struct {
	Layout     state.Layout
	Hours      *dimensions.ParkHoursTable
	Dategroups map[string]int
	Seasons    map[string]dimensions.SeasonRow
	Encoder    *modeling.LabelEncoder
	Trainer    modeling.RegressorTrainer
}

var backfillHeader = "entity_code,park_date,time_slot,actual,source\n"

// GenerateBackfill writes historical actual curves for every (entity, date)
// in the range. Slots with an observed ACTUAL use it verbatim
// (source=observed); other slots are predicted via the with-POSTED model
// over the observed POSTED series, linearly interpolated across gaps inside
// the operating window (source=imputed). Slots with neither observation nor
// prediction stay null.
func GenerateBackfill(ctx context.Context, deps BackfillDeps, entityCodes []string, from, to time.Time) (int, error) {
	now := time.Now().UTC()
	files := 0
	for _, entity := range entityCodes {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		pred, hasPred, err := LoadEntityPredictor(deps.Layout, deps.Trainer, deps.Encoder, entity, modeling.VariantWithPosted)
		if err != nil {
			return files, fmt.Errorf("load predictor %s: %w", entity, err)
		}

		obs, err := fact.Load(deps.Layout, entity)
		if err != nil {
			return files, err
		}
		byDate := groupByParkDate(obs)
		park := models.ParkFromEntity(entity)

		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			parkDate := day.Format(models.ParkDateLayout)
			hours, ok := deps.Hours.Lookup(parkDate, park, now)
			if !ok {
				continue
			}
			var p *EntityPredictor
			if hasPred {
				p = pred
			}
			rows := backfillDay(deps, p, entity, parkDate, hours, byDate[parkDate])
			path := deps.Layout.CurvePath("backfill", entity, parkDate)
			if err := state.WriteFileAtomic(path, rows, 0o640); err != nil {
				return files, err
			}
			files++
		}
	}
	logging.Info().Int("files", files).Msg("Backfill curves written")
	return files, nil
}

func backfillDay(deps BackfillDeps, pred *EntityPredictor, entity, parkDate string, hours dimensions.ParkHours, dayObs []models.Observation) []byte {
	slots := Slots(hours.OpenMin, hours.CloseMin)

	actualBySlot := make(map[Slot][]float64)
	postedBySlot := make(map[Slot]float64)
	for _, o := range dayObs {
		slot := SlotOf(slotMinutesOf(o.ObservedAt, hours))
		switch o.Type {
		case models.WaitTypeActual:
			actualBySlot[slot] = append(actualBySlot[slot], float64(o.Minutes))
		case models.WaitTypePosted:
			postedBySlot[slot] = float64(o.Minutes)
		}
	}
	interpPosted := interpolatePosted(slots, postedBySlot)

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
	buf.WriteString(backfillHeader)
	for _, slot := range slots {
		actual := ""
		source := ""
		if vals, ok := actualBySlot[slot]; ok {
			actual = strconv.FormatFloat(mean(vals), 'f', 1, 64)
			source = SourceObserved
		} else if pred != nil {
			posted := interpPosted[slot]
			if v, ok := pred.Predict(slotFeatures{
				MinsSince6AM: minsSince6AMOfSlot(int(slot)),
				DategroupID:  dategroupID,
				Season:       season,
				SeasonYear:   seasonYear,
				ParkCode:     models.ParkFromEntity(entity),
				Hours:        &hours,
				SlotMin:      int(slot),
				PostedWait:   posted,
			}); ok {
				actual = strconv.FormatFloat(math.Max(0, v), 'f', 1, 64)
				source = SourceImputed
			}
		}
		fmt.Fprintf(&buf, "%s,%s,%s,%s,%s\n", entity, parkDate, slot.Clock(), actual, source)
	}
	return buf.Bytes()
}

// slotMinutesOf maps an observation's local clock time onto the operating
// window's minute scale, shifting early-morning times past 1440 when the
// park runs past midnight.
func slotMinutesOf(at time.Time, hours dimensions.ParkHours) int {
	m := at.Hour()*60 + at.Minute()
	if m < hours.OpenMin && m+24*60 <= hours.CloseMin+SlotMinutes {
		m += 24 * 60
	}
	return m
}

// interpolatePosted fills gaps in the observed POSTED series by linear
// interpolation between known slots, inside the operating window only.
// Leading and trailing gaps stay empty.
func interpolatePosted(slots []Slot, known map[Slot]float64) map[Slot]*float64 {
	out := make(map[Slot]*float64, len(slots))

	var knownSlots []Slot
	for s := range known {
		knownSlots = append(knownSlots, s)
	}
	sort.Slice(knownSlots, func(i, j int) bool { return knownSlots[i] < knownSlots[j] })
	if len(knownSlots) == 0 {
		return out
	}

	for _, s := range slots {
		if v, ok := known[s]; ok {
			val := v
			out[s] = &val
			continue
		}
		// Find neighbors.
		i := sort.Search(len(knownSlots), func(k int) bool { return knownSlots[k] > s })
		if i == 0 || i == len(knownSlots) {
			continue // outside the observed span
		}
		lo, hi := knownSlots[i-1], knownSlots[i]
		frac := float64(s-lo) / float64(hi-lo)
		val := known[lo] + frac*(known[hi]-known[lo])
		out[s] = &val
	}
	return out
}

func groupByParkDate(obs []models.Observation) map[string][]models.Observation {
	out := make(map[string][]models.Observation)
	for _, o := range obs {
		d := o.ParkDate()
		out[d] = append(out[d], o)
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
