// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"math"
	"sort"
	"time"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/models"
)

// GeoDecayHalfLifeDays is the training weight half-life: an observation two
// years old carries half the weight of one from today.
const GeoDecayHalfLifeDays = 730.0

// FeatureRow is one modeling example. Pointer fields are null when the
// corresponding dimension has no row for the date.
type FeatureRow struct {
	EntityCode string
	ParkCode   string
	ParkDate   string
	ObservedAt time.Time

	MinsSince6AM int
	DategroupID  *int
	Season       *string
	SeasonYear   *int
	GeoDecay     float64

	// Park hours features, from the versioned hours join.
	MinsSinceParkOpen *int
	ParkOpenHour      *float64
	ParkCloseHour     *float64
	ParkHoursOpen     *float64

	// PostedWait is the nearest POSTED value on the same park date, present
	// only when building features for an ACTUAL target.
	PostedWait *int

	// Target is the observed wait for the modeling target type.
	Target float64
}

// FeatureDims bundles the dimension tables the feature builder joins
// against. Any of them may be nil; the derived columns are then null.
type FeatureDims struct {
	Dategroups map[string]int
	Seasons    map[string]dimensions.SeasonRow
	ParkHours  *dimensions.ParkHoursTable
}

// NewFeatureDims indexes dimension slices by park date.
func NewFeatureDims(dategroups []dimensions.DategroupRow, seasons []dimensions.SeasonRow, hours *dimensions.ParkHoursTable) FeatureDims {
	d := FeatureDims{ParkHours: hours}
	if len(dategroups) > 0 {
		d.Dategroups = make(map[string]int, len(dategroups))
		for _, r := range dategroups {
			d.Dategroups[r.ParkDate] = r.DateGroupID
		}
	}
	if len(seasons) > 0 {
		d.Seasons = make(map[string]dimensions.SeasonRow, len(seasons))
		for _, r := range seasons {
			d.Seasons[r.ParkDate] = r
		}
	}
	return d
}

// MinsSince6AM maps a local clock time onto minutes since the operational
// day start: ((hour*60 + minute) - 360 + 1440) mod 1440.
func MinsSince6AM(t time.Time) int {
	return ((t.Hour()*60+t.Minute())-360+1440) % 1440
}

// GeoDecay computes the training weight 0.5^(days_since/730).
func GeoDecay(observedAt, ref time.Time) float64 {
	days := ref.Sub(observedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(0.5, days/GeoDecayHalfLifeDays)
}

// BuildFeatures produces the feature table for one entity. obs must be the
// entity's full row set sorted by observed_at; target selects which wait
// type becomes the training target. For ACTUAL targets the POSTED series is
// joined as a covariate (nearest same-date POSTED); for PRIORITY targets it
// is absent.
//
// The park hours join is vectorized: one lookup per distinct park date, not
// per row.
func BuildFeatures(obs []models.Observation, target models.WaitTimeType, dims FeatureDims, ref time.Time) []FeatureRow {
	targetObs := make([]models.Observation, 0, len(obs))
	var postedObs []models.Observation
	for _, o := range obs {
		if o.Type == target {
			targetObs = append(targetObs, o)
		}
		if target == models.WaitTypeActual && o.Type == models.WaitTypePosted {
			postedObs = append(postedObs, o)
		}
	}
	if len(targetObs) == 0 {
		return nil
	}

	parkCode := targetObs[0].ParkCode()

	// One vectorized park-hours join over the distinct dates.
	var hoursByDate map[string]dimensions.ParkHours
	if dims.ParkHours != nil {
		seen := make(map[string]struct{})
		var dates []string
		for _, o := range targetObs {
			d := o.ParkDate()
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				dates = append(dates, d)
			}
		}
		hoursByDate = dims.ParkHours.LookupMany(dates, parkCode, ref)
	}

	postedJoin := newNearestPostedJoin(postedObs)

	rows := make([]FeatureRow, 0, len(targetObs))
	for _, o := range targetObs {
		parkDate := o.ParkDate()
		row := FeatureRow{
			EntityCode:   o.EntityCode,
			ParkCode:     parkCode,
			ParkDate:     parkDate,
			ObservedAt:   o.ObservedAt,
			MinsSince6AM: MinsSince6AM(o.ObservedAt),
			GeoDecay:     GeoDecay(o.ObservedAt, ref),
			Target:       float64(o.Minutes),
		}
		if dims.Dategroups != nil {
			if id, ok := dims.Dategroups[parkDate]; ok {
				row.DategroupID = &id
			}
		}
		if dims.Seasons != nil {
			if s, ok := dims.Seasons[parkDate]; ok {
				season, year := s.Season, s.SeasonYear
				row.Season = &season
				row.SeasonYear = &year
			}
		}
		if h, ok := hoursByDate[parkDate]; ok {
			openHour := float64(h.OpenMin) / 60
			closeHour := float64(h.CloseMin) / 60
			hoursOpen := h.HoursOpen()
			sinceOpen := o.ObservedAt.Hour()*60 + o.ObservedAt.Minute() - h.OpenMin
			if sinceOpen < 0 {
				sinceOpen += 24 * 60
			}
			row.ParkOpenHour = &openHour
			row.ParkCloseHour = &closeHour
			row.ParkHoursOpen = &hoursOpen
			row.MinsSinceParkOpen = &sinceOpen
		}
		if posted, ok := postedJoin.nearest(parkDate, o.ObservedAt); ok {
			row.PostedWait = &posted
		}
		rows = append(rows, row)
	}
	return rows
}

// nearestPostedJoin resolves, for each target observation, the closest
// POSTED value on the same park date, via a per-date sorted scan.
type nearestPostedJoin struct {
	byDate map[string][]models.Observation
}

func newNearestPostedJoin(posted []models.Observation) *nearestPostedJoin {
	j := &nearestPostedJoin{byDate: make(map[string][]models.Observation)}
	for _, o := range posted {
		d := o.ParkDate()
		j.byDate[d] = append(j.byDate[d], o)
	}
	for d := range j.byDate {
		rows := j.byDate[d]
		sort.SliceStable(rows, func(a, b int) bool {
			return rows[a].ObservedAt.Before(rows[b].ObservedAt)
		})
	}
	return j
}

func (j *nearestPostedJoin) nearest(parkDate string, at time.Time) (int, bool) {
	rows := j.byDate[parkDate]
	if len(rows) == 0 {
		return 0, false
	}
	i := sort.Search(len(rows), func(k int) bool {
		return !rows[k].ObservedAt.Before(at)
	})
	best := -1
	var bestDiff time.Duration
	for _, cand := range []int{i - 1, i} {
		if cand < 0 || cand >= len(rows) {
			continue
		}
		diff := rows[cand].ObservedAt.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = cand, diff
		}
	}
	return rows[best].Minutes, true
}
