// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package dimensions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EntityRow is one dim_entity record.
type EntityRow struct {
	Code             string
	ParkCode         string
	PropertyCode     string
	Name             string
	HasPriorityQueue bool
}

// DategroupRow is one dim_dategroupid record.
type DategroupRow struct {
	ParkDate    string
	DateGroupID int
}

// SeasonRow is one dim_season record.
type SeasonRow struct {
	ParkDate   string
	Season     string
	SeasonYear int
}

// table is a lightweight header-indexed CSV reader shared by the loaders.
type table struct {
	col  map[string]int
	rows [][]string
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	t := &table{col: make(map[string]int, len(header))}
	for i, name := range header {
		t.col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		t.rows = append(t.rows, append([]string(nil), rec...))
	}
	return t, nil
}

// field returns the named column of a row, trying candidates in order.
func (t *table) field(row []string, candidates ...string) string {
	for _, c := range candidates {
		if i, ok := t.col[c]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y":
		return true
	}
	return false
}

// LoadEntities reads dim_entity.
func LoadEntities(path string) ([]EntityRow, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, fmt.Errorf("load dim_entity: %w", err)
	}
	var out []EntityRow
	for _, row := range t.rows {
		code := strings.ToUpper(t.field(row, "entity_code", "code"))
		if code == "" {
			continue
		}
		out = append(out, EntityRow{
			Code:             code,
			ParkCode:         strings.ToLower(t.field(row, "park_code", "park")),
			PropertyCode:     strings.ToLower(t.field(row, "property_code", "property")),
			Name:             t.field(row, "name", "entity_name"),
			HasPriorityQueue: parseBool(t.field(row, "has_priority_queue", "priority_queue")),
		})
	}
	return out, nil
}

// LoadDategroups reads dim_dategroupid.
func LoadDategroups(path string) ([]DategroupRow, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, fmt.Errorf("load dim_dategroupid: %w", err)
	}
	var out []DategroupRow
	for _, row := range t.rows {
		date := normalizeDate(t.field(row, "park_date", "date"))
		id, err := strconv.Atoi(t.field(row, "date_group_id", "dategroupid", "date_group"))
		if date == "" || err != nil {
			continue
		}
		out = append(out, DategroupRow{ParkDate: date, DateGroupID: id})
	}
	return out, nil
}

// LoadSeasons reads dim_season.
func LoadSeasons(path string) ([]SeasonRow, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, fmt.Errorf("load dim_season: %w", err)
	}
	var out []SeasonRow
	for _, row := range t.rows {
		date := normalizeDate(t.field(row, "park_date", "date"))
		if date == "" {
			continue
		}
		year, _ := strconv.Atoi(t.field(row, "season_year"))
		out = append(out, SeasonRow{
			ParkDate:   date,
			Season:     t.field(row, "season"),
			SeasonYear: year,
		})
	}
	return out, nil
}

// normalizeDate trims a date string to YYYY-MM-DD.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return ""
}

// EntityDirectory indexes dim_entity by code for target selection and
// display names.
type EntityDirectory struct {
	byCode map[string]EntityRow
}

// NewEntityDirectory builds the index. A nil/empty slice yields an empty
// directory; lookups then use defaults.
func NewEntityDirectory(rows []EntityRow) *EntityDirectory {
	d := &EntityDirectory{byCode: make(map[string]EntityRow, len(rows))}
	for _, r := range rows {
		d.byCode[r.Code] = r
	}
	return d
}

// HasPriorityQueue reports the modeling-target flag; unknown entities
// default to false (ACTUAL target).
func (d *EntityDirectory) HasPriorityQueue(entityCode string) bool {
	return d.byCode[strings.ToUpper(entityCode)].HasPriorityQueue
}

// DisplayName returns the human name, falling back to the code.
func (d *EntityDirectory) DisplayName(entityCode string) string {
	if r, ok := d.byCode[strings.ToUpper(entityCode)]; ok && r.Name != "" {
		return r.Name
	}
	return strings.ToUpper(entityCode)
}

// Len returns the number of indexed entities.
func (d *EntityDirectory) Len() int { return len(d.byCode) }
