// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package fact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tomtom215/parkwaits/internal/models"
)

// Header is the canonical CSV header shared by fact and staging files.
var Header = []string{"entity_code", "observed_at", "wait_time_type", "wait_time_minutes"}

// EncodeRow renders one observation as a CSV record.
func EncodeRow(o models.Observation) []string {
	return []string{
		o.EntityCode,
		models.FormatObservedAt(o.ObservedAt),
		string(o.Type),
		strconv.Itoa(o.Minutes),
	}
}

// DecodeRow parses one CSV record into an observation.
func DecodeRow(rec []string) (models.Observation, error) {
	if len(rec) < 4 {
		return models.Observation{}, fmt.Errorf("short row: %v", rec)
	}
	at, err := models.ParseObservedAt(rec[1])
	if err != nil {
		return models.Observation{}, err
	}
	typ, err := models.ParseWaitTimeType(rec[2])
	if err != nil {
		return models.Observation{}, err
	}
	minutes, err := strconv.Atoi(rec[3])
	if err != nil {
		return models.Observation{}, fmt.Errorf("parse minutes %q: %w", rec[3], err)
	}
	return models.Observation{
		EntityCode: rec[0],
		ObservedAt: at,
		Type:       typ,
		Minutes:    minutes,
	}, nil
}

// ReadFile loads every row of a canonical CSV. Rows that fail to decode are
// returned in the error count, not silently dropped.
func ReadFile(path string) ([]models.Observation, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadAll(f)
}

// ReadAll decodes a canonical CSV stream, skipping the header row.
func ReadAll(r io.Reader) ([]models.Observation, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	var obs []models.Observation
	badRows := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			badRows++
			continue
		}
		o, err := DecodeRow(rec)
		if err != nil {
			badRows++
			continue
		}
		obs = append(obs, o)
	}
	return obs, badRows, nil
}

// WriteAll writes a full canonical CSV (header plus rows) to w.
func WriteAll(w io.Writer, obs []models.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, o := range obs {
		if err := cw.Write(EncodeRow(o)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
