// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package staging

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EntityMapping resolves the live provider's (park, ride ID) to our entity
// codes. The table is the fixed configuration CSV
// queue_times_entity_mapping.csv: entity_code, park_code, queue_times_id.
type EntityMapping struct {
	byRide map[string]string
}

func mappingKey(parkCode string, rideID int) string {
	return strings.ToLower(parkCode) + "|" + strconv.Itoa(rideID)
}

// LoadEntityMapping reads the mapping CSV. A missing file yields an empty
// mapping: every ride is then unmapped and reported.
func LoadEntityMapping(path string) (*EntityMapping, error) {
	m := &EntityMapping{byRide: make(map[string]string)}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open entity mapping: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read mapping header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	entityIdx, okEntity := col["entity_code"]
	parkIdx, okPark := col["park_code"]
	rideIdx, okRide := col["queue_times_id"]
	if !okEntity || !okPark || !okRide {
		return nil, fmt.Errorf("entity mapping missing required columns, header %v", header)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || rideIdx >= len(rec) || entityIdx >= len(rec) || parkIdx >= len(rec) {
			continue
		}
		// The CSV occasionally stores the ID as a float.
		idField := strings.TrimSpace(rec[rideIdx])
		rideID, err := strconv.Atoi(idField)
		if err != nil {
			f, ferr := strconv.ParseFloat(idField, 64)
			if ferr != nil {
				continue
			}
			rideID = int(f)
		}
		m.byRide[mappingKey(rec[parkIdx], rideID)] = strings.ToUpper(strings.TrimSpace(rec[entityIdx]))
	}
	return m, nil
}

// Lookup returns the entity code for a ride, or false when unmapped.
func (m *EntityMapping) Lookup(parkCode string, rideID int) (string, bool) {
	code, ok := m.byRide[mappingKey(parkCode, rideID)]
	return code, ok
}

// Len returns the number of mapped rides.
func (m *EntityMapping) Len() int { return len(m.byRide) }
