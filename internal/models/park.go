// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package models

import (
	"strings"
	"time"
)

// parkCodeMap maps an entity code prefix (letters before the first digit) to
// the short lowercase park code used in file names and grouping.
var parkCodeMap = map[string]string{
	"MK": "mk", "EP": "ep", "HS": "hs", "AK": "ak", "BB": "bb", "TL": "tl",
	"DL": "dl", "CA": "ca",
	"TDL": "tdl", "TDS": "tds",
	"IA": "ia", "UF": "uf", "EU": "eu", "USH": "uh",
}

// ParkPrefixes returns a copy of the entity prefix to park code table, for
// callers that need to replicate the derivation elsewhere (SQL joins).
func ParkPrefixes() map[string]string {
	out := make(map[string]string, len(parkCodeMap))
	for k, v := range parkCodeMap {
		out[k] = v
	}
	return out
}

// ParkFromEntity derives the lowercase park code from an entity code, e.g.
// MK101 -> mk. Unknown prefixes fall back to the lowercased prefix itself so
// new parks partition cleanly without a code change.
func ParkFromEntity(entityCode string) string {
	s := strings.ToUpper(strings.TrimSpace(entityCode))
	if s == "" {
		return ""
	}
	i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	prefix := s
	if i >= 0 {
		prefix = s[:i]
	}
	if code, ok := parkCodeMap[prefix]; ok {
		return code
	}
	return strings.ToLower(prefix)
}

// KnownPark reports whether the entity prefix maps to a configured park.
func KnownPark(entityCode string) bool {
	s := strings.ToUpper(strings.TrimSpace(entityCode))
	i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	prefix := s
	if i >= 0 {
		prefix = s[:i]
	}
	_, ok := parkCodeMap[prefix]
	return ok
}

// ParkDateLayout is the serialization of a park operational date.
const ParkDateLayout = "2006-01-02"

// ParkDate computes the operational date of t under the 6 AM rule: a local
// time before 06:00 belongs to the previous calendar date. The time's own
// location (the park's zone offset) is used, so callers must pass timestamps
// already stamped into the park zone.
func ParkDate(t time.Time) string {
	if t.Hour() < 6 {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format(ParkDateLayout)
}

// ParkDateIn computes the operational date of t evaluated in loc.
func ParkDateIn(t time.Time, loc *time.Location) string {
	return ParkDate(t.In(loc))
}
