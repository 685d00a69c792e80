// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package staging

import (
	"time"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/models"
)

// InWindow reports whether now falls inside the park's polling window:
// [earliest open - before, latest close + after] on today's park date under
// the 6 AM rule in the park's zone. When the hours table has no row for the
// date, the park is treated as in-window so a missing dimension never blinds
// the poller.
func InWindow(hours *dimensions.ParkHoursTable, parkCode string, loc *time.Location, now time.Time, before, after time.Duration) bool {
	localNow := now.In(loc)
	parkDate := models.ParkDate(localNow)

	h, ok := hours.Lookup(parkDate, parkCode, now)
	if !ok {
		return true
	}

	midnight, err := time.ParseInLocation(models.ParkDateLayout, parkDate, loc)
	if err != nil {
		return true
	}
	start := midnight.Add(time.Duration(h.EarliestOpen())*time.Minute - before)
	end := midnight.Add(time.Duration(h.LatestClose())*time.Minute + after)
	return !localNow.Before(start) && !localNow.After(end)
}
