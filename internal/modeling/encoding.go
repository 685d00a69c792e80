// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/parkwaits/internal/state"
)

// LabelEncoder maintains the persistent integer label map for categorical
// features (state/encoding_mappings.json). The mapping is append-only:
// existing category IDs are never rewritten, and unknown categories at
// inference time receive new IDs rather than failing. Consistent encoding
// between training and prediction depends on this file.
type LabelEncoder struct {
	path    string
	columns map[string]map[string]int
	dirty   bool
}

type encodingFile struct {
	Strategy  string                    `json:"strategy"`
	Columns   map[string]map[string]int `json:"columns"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// LoadLabelEncoder reads the label map, starting empty when the file does
// not exist.
func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	e := &LabelEncoder{path: path, columns: make(map[string]map[string]int)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return e, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read encoding mappings: %w", err)
	}
	var f encodingFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode encoding mappings: %w", err)
	}
	if f.Columns != nil {
		e.columns = f.Columns
	}
	return e, nil
}

// Encode returns the integer ID for a category, allocating the next free ID
// when the category is new.
func (e *LabelEncoder) Encode(column, category string) int {
	col, ok := e.columns[column]
	if !ok {
		col = make(map[string]int)
		e.columns[column] = col
	}
	if id, ok := col[category]; ok {
		return id
	}
	id := len(col)
	col[category] = id
	e.dirty = true
	return id
}

// Decode reverses a column's encoding. Used by tests and reporting.
func (e *LabelEncoder) Decode(column string, id int) (string, bool) {
	for cat, v := range e.columns[column] {
		if v == id {
			return cat, true
		}
	}
	return "", false
}

// Categories returns a column's categories in ID order.
func (e *LabelEncoder) Categories(column string) []string {
	col := e.columns[column]
	out := make([]string, len(col))
	type pair struct {
		cat string
		id  int
	}
	pairs := make([]pair, 0, len(col))
	for cat, id := range col {
		pairs = append(pairs, pair{cat, id})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	for i, p := range pairs {
		out[i] = p.cat
	}
	return out
}

// Save persists the map atomically when it changed.
func (e *LabelEncoder) Save() error {
	if !e.dirty {
		return nil
	}
	data, err := json.MarshalIndent(encodingFile{
		Strategy:  "label",
		Columns:   e.columns,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	if err := state.WriteFileAtomic(e.path, data, 0o640); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// Encoding column names, matching the persisted mapping keys.
const (
	colDategroup  = "pred_dategroupid"
	colSeason     = "pred_season"
	colSeasonYear = "pred_season_year"
	colParkCode   = "park_code"
	colEntityCode = "entity_code"
)

// EncodeRows turns feature rows into the numeric dataset for one model
// variant. includePosted adds the posted covariate column (missing posted
// becomes the column median, computed over the rows that have one).
func EncodeRows(rows []FeatureRow, enc *LabelEncoder, includePosted bool) Dataset {
	names := []string{
		"pred_mins_since_6am",
		colDategroup,
		colSeason,
		colSeasonYear,
		colParkCode,
		colEntityCode,
	}
	hasHours := false
	for _, r := range rows {
		if r.MinsSinceParkOpen != nil {
			hasHours = true
			break
		}
	}
	if hasHours {
		names = append(names,
			"pred_mins_since_park_open",
			"pred_park_open_hour",
			"pred_park_close_hour",
			"pred_park_hours_open",
		)
	}
	if includePosted {
		names = append(names, "posted_wait_time")
	}

	postedMedian := medianPosted(rows)

	ds := Dataset{FeatureNames: names}
	for _, r := range rows {
		feats := make([]float64, 0, len(names))
		feats = append(feats, float64(r.MinsSince6AM))
		feats = append(feats, encodeNullable(enc, colDategroup, intPtrString(r.DategroupID)))
		feats = append(feats, encodeNullable(enc, colSeason, strPtr(r.Season)))
		feats = append(feats, encodeNullable(enc, colSeasonYear, intPtrString(r.SeasonYear)))
		feats = append(feats, float64(enc.Encode(colParkCode, r.ParkCode)))
		feats = append(feats, float64(enc.Encode(colEntityCode, r.EntityCode)))
		if hasHours {
			feats = append(feats,
				floatOrZero(intToFloatPtr(r.MinsSinceParkOpen)),
				floatOrZero(r.ParkOpenHour),
				floatOrZero(r.ParkCloseHour),
				floatOrZero(r.ParkHoursOpen),
			)
		}
		if includePosted {
			if r.PostedWait != nil {
				feats = append(feats, float64(*r.PostedWait))
			} else {
				feats = append(feats, postedMedian)
			}
		}
		ds.Features = append(ds.Features, feats)
		ds.Target = append(ds.Target, r.Target)
		ds.Weights = append(ds.Weights, r.GeoDecay)
		ds.ParkDates = append(ds.ParkDates, r.ParkDate)
	}
	return ds
}

func encodeNullable(enc *LabelEncoder, column string, category string) float64 {
	if category == "" {
		return -1
	}
	return float64(enc.Encode(column, category))
}

func intPtrString(p *int) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%d", *p)
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intToFloatPtr(p *int) *float64 {
	if p == nil {
		return nil
	}
	f := float64(*p)
	return &f
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func medianPosted(rows []FeatureRow) float64 {
	var vals []float64
	for _, r := range rows {
		if r.PostedWait != nil {
			vals = append(vals, float64(*r.PostedWait))
		}
	}
	return median(vals)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
