// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/parkwaits/internal/models"
)

// ParseFastpassLegacy streams the headerless legacy fastpass format. The
// schema is positional: columns 0-7 are FATTID, FDAY, FMONTH, FYEAR, FHOUR,
// FMIN, FWINHR, FWINMIN; row 0 is an inter-file header and is skipped. Hour
// and minute arrive in separate columns, so no compact-time normalization
// applies. Date parsing is locked to this convention: a pathological year
// (e.g. 2813) fails the row instead of producing a silent wrong value.
func ParseFastpassLegacy(r io.Reader, loc *time.Location, chunkSize int, emit EmitFunc) (ChunkStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	// Row 0 is a header in every legacy file regardless of content.
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return ChunkStats{}, nil
		}
		return ChunkStats{}, fmt.Errorf("read legacy header row: %w", err)
	}

	var stats ChunkStats
	chunk := make([]models.Observation, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := emit(collapsePriorityKeepLast(chunk)); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.RowsDropped++
			continue
		}
		stats.RowsRead++

		row, ok := decodeLegacyPriorityRow(rec)
		if !ok {
			stats.RowsDropped++
			continue
		}
		o, err := row.toObservation(loc, true)
		if err != nil {
			stats.RowsDropped++
			continue
		}
		if !o.Valid() {
			stats.RowsInvalid++
		}
		chunk = append(chunk, o)
		stats.RowsEmitted++

		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	if stats.RowsRead > 0 && stats.RowsEmitted == 0 {
		return stats, errAllRowsFailed
	}
	return stats, nil
}

// decodeLegacyPriorityRow decodes one positional record.
func decodeLegacyPriorityRow(rec []string) (priorityRow, bool) {
	if len(rec) < len(priorityColumns) {
		return priorityRow{}, false
	}
	atoi := func(i int) (int, bool) {
		s := strings.TrimSpace(rec[i])
		if s == "" {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return 0, false
			}
			n = int(f)
		}
		return n, true
	}

	var p priorityRow
	p.entity = strings.TrimSpace(rec[0])
	var ok bool
	if p.day, ok = atoi(1); !ok {
		return p, false
	}
	if p.month, ok = atoi(2); !ok {
		return p, false
	}
	if p.year, ok = atoi(3); !ok {
		return p, false
	}
	if p.obsHour, ok = atoi(4); !ok {
		return p, false
	}
	p.obsMin, _ = atoi(5)
	if p.retEncoded, ok = atoi(6); !ok {
		return p, false
	}
	p.retHour = p.retEncoded
	p.retMin, _ = atoi(7)
	return p, true
}
