// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package curves

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// BuildWTI aggregates the generated curves into the daily Wait Time Index:
// for each (park_code, park_date, time_slot), the mean actual over every
// entity in the park with a non-null actual. Backfill actuals (observed or
// imputed) take precedence over forecast predictions for the same slot.
// Slots where an entity's actual is null are simply excluded from that
// entity's contribution; that is the only exclusion rule.
//
// The aggregation runs in DuckDB over the curve CSVs and lands in
// wti/wti.csv.
func BuildWTI(ctx context.Context, layout state.Layout) (int, error) {
	backfillGlob := filepath.Join(layout.CurvesDir("backfill"), "*.csv")
	forecastGlob := filepath.Join(layout.CurvesDir("forecast"), "*.csv")
	hasBackfill := globHasFiles(backfillGlob)
	hasForecast := globHasFiles(forecastGlob)
	if !hasBackfill && !hasForecast {
		return 0, fmt.Errorf("no curve files to aggregate; run backfill or forecast first")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	if err := createPrefixMap(ctx, db); err != nil {
		return 0, err
	}

	var sources []string
	if hasBackfill {
		sources = append(sources, `
			SELECT entity_code, park_date, time_slot, actual, 0 AS pref
			FROM read_csv(`+quote(backfillGlob)+`, header = true, columns = {
				'entity_code': 'VARCHAR', 'park_date': 'VARCHAR', 'time_slot': 'VARCHAR',
				'actual': 'DOUBLE', 'source': 'VARCHAR'})
			WHERE actual IS NOT NULL`)
	}
	if hasForecast {
		sources = append(sources, `
			SELECT entity_code, park_date, time_slot, actual_predicted AS actual, 1 AS pref
			FROM read_csv(`+quote(forecastGlob)+`, header = true, columns = {
				'entity_code': 'VARCHAR', 'park_date': 'VARCHAR', 'time_slot': 'VARCHAR',
				'actual_predicted': 'DOUBLE', 'posted_predicted': 'DOUBLE'})
			WHERE actual_predicted IS NOT NULL`)
	}

	query := `
		COPY (
			WITH unioned AS (` + strings.Join(sources, " UNION ALL ") + `),
			ranked AS (
				SELECT *, row_number() OVER (
					PARTITION BY entity_code, park_date, time_slot ORDER BY pref
				) AS rn
				FROM unioned
			)
			SELECT
				pm.park                  AS park_code,
				r.park_date,
				r.time_slot,
				round(avg(r.actual), 2)  AS wti,
				count(*)                 AS n_entities,
				min(r.actual)            AS min_actual,
				max(r.actual)            AS max_actual
			FROM ranked r
			JOIN park_prefixes pm
			  ON regexp_extract(r.entity_code, '^([A-Z]+)', 1) = pm.prefix
			WHERE r.rn = 1
			GROUP BY 1, 2, 3
			ORDER BY 1, 2, 3
		) TO ` + quote(filepath.Join(layout.WTIDir(), "wti.csv")) + ` (FORMAT CSV, HEADER)`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return 0, fmt.Errorf("build wti: %w", err)
	}

	var rows int
	err = db.QueryRowContext(ctx,
		"SELECT count(*) FROM read_csv("+quote(filepath.Join(layout.WTIDir(), "wti.csv"))+", header = true)").
		Scan(&rows)
	if err != nil {
		return 0, fmt.Errorf("count wti rows: %w", err)
	}
	logging.Info().Int("rows", rows).Msg("Wait Time Index built")
	return rows, nil
}

// createPrefixMap registers the entity-prefix to park-code table so SQL can
// replicate the park derivation.
func createPrefixMap(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		"CREATE TEMP TABLE park_prefixes (prefix VARCHAR, park VARCHAR)"); err != nil {
		return fmt.Errorf("create prefix map: %w", err)
	}
	for prefix, park := range models.ParkPrefixes() {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO park_prefixes VALUES (?, ?)", prefix, park); err != nil {
			return fmt.Errorf("fill prefix map: %w", err)
		}
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func globHasFiles(glob string) bool {
	paths, err := filepath.Glob(glob)
	if err != nil {
		return false
	}
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.Size() > 0 {
			return true
		}
	}
	return false
}
