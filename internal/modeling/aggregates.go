// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// AggregateRow is one posted-aggregates record: the median POSTED for an
// (entity, dategroupid, hour) cell.
type AggregateRow struct {
	EntityCode  string
	DategroupID int
	Hour        int
	Median      float64
	Mean        float64
	Count       int64
}

// openDuck opens an in-memory DuckDB session for analytic scans.
func openDuck(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// sqlQuote escapes a string for a single-quoted DuckDB literal.
func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// factScanSQL builds the shared scan of all fact partition files. The park
// date comes from the partition file name: the 6 AM rule was
// applied at write time, so the name is authoritative. The local hour is the
// hour component of observed_at, which is serialized in park-local time.
func factScanSQL(factDir string) string {
	glob := filepath.Join(factDir, "*", "*.csv")
	return `
		SELECT
			entity_code,
			CAST(substr(observed_at, 12, 2) AS INTEGER)               AS hour,
			wait_time_minutes,
			wait_time_type,
			regexp_extract(filename, '([a-z]+)_(\d{4}-\d{2}-\d{2})\.csv$', 2) AS park_date
		FROM read_csv(` + sqlQuote(glob) + `,
			header = true,
			filename = true,
			columns = {
				'entity_code': 'VARCHAR',
				'observed_at': 'VARCHAR',
				'wait_time_type': 'VARCHAR',
				'wait_time_minutes': 'INTEGER'
			})`
}

// BuildPostedAggregates scans every canonical fact file once, computes the
// per-(entity, dategroupid, hour) POSTED medians, and persists them as the
// posted_aggregates parquet file. Returns the number of aggregate cells.
func BuildPostedAggregates(ctx context.Context, layout state.Layout, dategroupCSV string) (int, error) {
	db, err := openDuck(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	query := `
		COPY (
			WITH facts AS (` + factScanSQL(layout.FactDir()) + `),
			dategroups AS (
				SELECT substr(CAST(park_date AS VARCHAR), 1, 10) AS park_date,
				       CAST(date_group_id AS INTEGER)            AS dategroupid
				FROM read_csv(` + sqlQuote(dategroupCSV) + `, header = true)
			)
			SELECT
				f.entity_code,
				d.dategroupid,
				f.hour,
				median(f.wait_time_minutes) AS posted_median,
				avg(f.wait_time_minutes)    AS posted_mean,
				count(*)                    AS posted_count,
				min(f.park_date)            AS min_park_date,
				max(f.park_date)            AS max_park_date
			FROM facts f
			JOIN dategroups d USING (park_date)
			WHERE f.wait_time_type = 'POSTED'
			  AND f.wait_time_minutes IS NOT NULL
			GROUP BY 1, 2, 3
		) TO ` + sqlQuote(layout.PostedAggregatesPath()) + ` (FORMAT PARQUET)`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return 0, fmt.Errorf("build posted aggregates: %w", err)
	}

	var cells int
	row := db.QueryRowContext(ctx,
		"SELECT count(*) FROM read_parquet("+sqlQuote(layout.PostedAggregatesPath())+")")
	if err := row.Scan(&cells); err != nil {
		return 0, fmt.Errorf("count aggregate cells: %w", err)
	}
	logging.Info().
		Int("cells", cells).
		Str("path", layout.PostedAggregatesPath()).
		Msg("Posted aggregates built")
	return cells, nil
}

// LoadPostedAggregates reads the persisted parquet back into memory.
func LoadPostedAggregates(ctx context.Context, layout state.Layout) ([]AggregateRow, error) {
	db, err := openDuck(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT entity_code, dategroupid, hour, posted_median, posted_mean, posted_count
		FROM read_parquet(`+sqlQuote(layout.PostedAggregatesPath())+`)`)
	if err != nil {
		return nil, fmt.Errorf("read posted aggregates: %w", err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var r AggregateRow
		if err := rows.Scan(&r.EntityCode, &r.DategroupID, &r.Hour, &r.Median, &r.Mean, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PostedLookup answers predicted-POSTED queries with the documented
// fallback chain:
//
//  1. (entity, dategroupid, hour)
//  2. (entity, dategroupid)   - median across hours
//  3. (entity, hour)          - median across dategroupids
//  4. (entity)                - median across all cells
//  5. (park_code, hour)       - park-level median
type PostedLookup struct {
	byCell       map[string]float64
	byEntityDG   map[string][]float64
	byEntityHour map[string][]float64
	byEntity     map[string][]float64
	byParkHour   map[string][]float64
}

func cellKey(parts ...string) string { return strings.Join(parts, "|") }

// NewPostedLookup indexes aggregate rows for the fallback chain.
func NewPostedLookup(rows []AggregateRow) *PostedLookup {
	l := &PostedLookup{
		byCell:       make(map[string]float64),
		byEntityDG:   make(map[string][]float64),
		byEntityHour: make(map[string][]float64),
		byEntity:     make(map[string][]float64),
		byParkHour:   make(map[string][]float64),
	}
	for _, r := range rows {
		dg := fmt.Sprintf("%d", r.DategroupID)
		hour := fmt.Sprintf("%d", r.Hour)
		park := models.ParkFromEntity(r.EntityCode)
		l.byCell[cellKey(r.EntityCode, dg, hour)] = r.Median
		l.byEntityDG[cellKey(r.EntityCode, dg)] = append(l.byEntityDG[cellKey(r.EntityCode, dg)], r.Median)
		l.byEntityHour[cellKey(r.EntityCode, hour)] = append(l.byEntityHour[cellKey(r.EntityCode, hour)], r.Median)
		l.byEntity[r.EntityCode] = append(l.byEntity[r.EntityCode], r.Median)
		l.byParkHour[cellKey(park, hour)] = append(l.byParkHour[cellKey(park, hour)], r.Median)
	}
	return l
}

// PredictedPosted resolves the imputed POSTED for an entity at (dategroupid,
// hour), falling back tier by tier. The boolean is false only when no tier
// has data.
func (l *PostedLookup) PredictedPosted(entityCode string, dategroupID, hour int) (float64, bool) {
	dg := fmt.Sprintf("%d", dategroupID)
	h := fmt.Sprintf("%d", hour)
	if v, ok := l.byCell[cellKey(entityCode, dg, h)]; ok {
		return v, true
	}
	if vals, ok := l.byEntityDG[cellKey(entityCode, dg)]; ok {
		return median(vals), true
	}
	if vals, ok := l.byEntityHour[cellKey(entityCode, h)]; ok {
		return median(vals), true
	}
	if vals, ok := l.byEntity[entityCode]; ok {
		return median(vals), true
	}
	if vals, ok := l.byParkHour[cellKey(models.ParkFromEntity(entityCode), h)]; ok {
		return median(vals), true
	}
	return 0, false
}

// Entities lists the entities present in the aggregates, sorted.
func (l *PostedLookup) Entities() []string {
	out := make([]string, 0, len(l.byEntity))
	for e := range l.byEntity {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
