// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package fact

import (
	"fmt"

	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// ValidationReport summarizes a full scan of the canonical store against the
// documented column constraints. Violations are reported, never silently
// dropped from the store.
type ValidationReport struct {
	FilesScanned      int
	RowsScanned       int
	InvalidRows       int
	OutlierRows       int
	DuplicateRows     int
	MisplacedRows     int // row's derived (park, date) disagrees with its file
	UndecodableRows   int
	InvalidByType     map[models.WaitTimeType]int
}

// Clean reports whether the store passed validation. Outliers are
// informational and do not fail the scan.
func (r ValidationReport) Clean() bool {
	return r.InvalidRows == 0 && r.DuplicateRows == 0 && r.MisplacedRows == 0 && r.UndecodableRows == 0
}

// Validate scans every canonical file, checking value ranges (I1), the
// partition derivation invariant (I2), and in-file 4-tuple uniqueness.
func Validate(layout state.Layout) (ValidationReport, error) {
	rep := ValidationReport{InvalidByType: make(map[models.WaitTimeType]int)}

	paths, err := AllPartitionFiles(layout)
	if err != nil {
		return rep, err
	}
	for _, path := range paths {
		parkCode, parkDate, err := PartitionParkDate(path)
		if err != nil {
			logging.Warn().Str("file", path).Msg("Non-partition file in fact store")
			continue
		}
		obs, badRows, err := ReadFile(path)
		if err != nil {
			return rep, fmt.Errorf("read %s: %w", path, err)
		}
		rep.FilesScanned++
		rep.UndecodableRows += badRows

		seen := make(map[string]struct{}, len(obs))
		for _, o := range obs {
			rep.RowsScanned++
			if !o.Valid() {
				rep.InvalidRows++
				rep.InvalidByType[o.Type]++
			}
			if o.Outlier() {
				rep.OutlierRows++
			}
			if o.ParkCode() != parkCode || o.ParkDate() != parkDate {
				rep.MisplacedRows++
			}
			key := string(o.DedupKey())
			if _, dup := seen[key]; dup {
				rep.DuplicateRows++
			}
			seen[key] = struct{}{}
		}
	}

	logging.Info().
		Int("files", rep.FilesScanned).
		Int("rows", rep.RowsScanned).
		Int("invalid", rep.InvalidRows).
		Int("outliers", rep.OutlierRows).
		Int("duplicates", rep.DuplicateRows).
		Int("misplaced", rep.MisplacedRows).
		Msg("Validation scan complete")
	return rep, nil
}
