// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WaitTimeType classifies a wait time observation.
type WaitTimeType string

const (
	// WaitTypePosted is the wait time displayed to guests.
	WaitTypePosted WaitTimeType = "POSTED"
	// WaitTypeActual is a measured standby wait.
	WaitTypeActual WaitTimeType = "ACTUAL"
	// WaitTypePriority is the minutes until the priority return window opens.
	WaitTypePriority WaitTimeType = "PRIORITY"
)

// SoldOutSentinel is the PRIORITY value meaning the return window is sold out
// for the day. It is preserved verbatim through the whole pipeline.
const SoldOutSentinel = 8888

// OutlierThreshold is the POSTED/ACTUAL value at or above which a row is
// flagged as an outlier by validation. Outliers are reported, not rejected.
const OutlierThreshold = 300

// ParseWaitTimeType parses s into a WaitTimeType.
func ParseWaitTimeType(s string) (WaitTimeType, error) {
	switch WaitTimeType(strings.ToUpper(strings.TrimSpace(s))) {
	case WaitTypePosted:
		return WaitTypePosted, nil
	case WaitTypeActual:
		return WaitTypeActual, nil
	case WaitTypePriority:
		return WaitTypePriority, nil
	}
	return "", fmt.Errorf("unknown wait_time_type %q", s)
}

// ObservedAtLayout is the canonical serialization of observed_at: local time
// with an explicit numeric offset, never a Z suffix.
const ObservedAtLayout = "2006-01-02T15:04:05-07:00"

// Observation is a single canonical fact row. ObservedAt carries the park's
// local offset; the park code and operational date are derived from the other
// fields on demand.
type Observation struct {
	EntityCode string
	ObservedAt time.Time
	Type       WaitTimeType
	Minutes    int
}

// FormatObservedAt renders t in the canonical observed_at layout.
func FormatObservedAt(t time.Time) string {
	return t.Format(ObservedAtLayout)
}

// ParseObservedAt parses an observed_at string. Offsets are required; a bare
// local timestamp is an error because the park zone cannot be recovered from
// the string alone.
func ParseObservedAt(s string) (time.Time, error) {
	t, err := time.Parse(ObservedAtLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse observed_at %q: %w", s, err)
	}
	return t, nil
}

// Valid reports whether the observation satisfies the documented column
// constraints: POSTED/ACTUAL in [0,1000], PRIORITY in [-100,2000] or the
// sold-out sentinel.
func (o Observation) Valid() bool {
	if o.EntityCode == "" || o.ObservedAt.IsZero() {
		return false
	}
	switch o.Type {
	case WaitTypePosted, WaitTypeActual:
		return o.Minutes >= 0 && o.Minutes <= 1000
	case WaitTypePriority:
		return (o.Minutes >= -100 && o.Minutes <= 2000) || o.Minutes == SoldOutSentinel
	}
	return false
}

// Outlier reports whether a valid POSTED/ACTUAL value is suspiciously large.
func (o Observation) Outlier() bool {
	switch o.Type {
	case WaitTypePosted, WaitTypeActual:
		return o.Minutes >= OutlierThreshold
	}
	return false
}

// DedupKey encodes the 4-tuple identity of the row. Two observations with the
// same key are the same fact regardless of which source produced them.
func (o Observation) DedupKey() []byte {
	var b strings.Builder
	b.Grow(len(o.EntityCode) + len(ObservedAtLayout) + len(o.Type) + 8)
	b.WriteString(o.EntityCode)
	b.WriteByte('|')
	b.WriteString(FormatObservedAt(o.ObservedAt))
	b.WriteByte('|')
	b.WriteString(string(o.Type))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(o.Minutes))
	return []byte(b.String())
}

// ParkCode returns the lowercase park code derived from the entity prefix.
func (o Observation) ParkCode() string {
	return ParkFromEntity(o.EntityCode)
}

// ParkDate returns the operational date of the observation under the 6 AM rule.
func (o Observation) ParkDate() string {
	return ParkDate(o.ObservedAt)
}
