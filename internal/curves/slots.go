// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package curves

import (
	"github.com/tomtom215/parkwaits/internal/dimensions"
)

// SlotMinutes is the output resolution.
const SlotMinutes = 5

// Slot is one 5-minute bucket, expressed as minutes since local midnight.
// Values past 1440 belong to the next calendar day (parks closing after
// midnight).
type Slot int

// Clock renders the slot as HH:MM, wrapping past midnight.
func (s Slot) Clock() string { return dimensions.FormatClock(int(s)) }

// Hour is the local hour of the slot, for aggregate lookups.
func (s Slot) Hour() int { return (int(s) % (24 * 60)) / 60 }

// Slots generates the 5-minute slots covering [openMin, closeMin): a
// 09:00-21:00 window yields exactly 144 slots.
func Slots(openMin, closeMin int) []Slot {
	if closeMin <= openMin {
		return nil
	}
	start := openMin - openMin%SlotMinutes
	if start < openMin {
		start += SlotMinutes
	}
	var out []Slot
	for m := start; m < closeMin; m += SlotMinutes {
		out = append(out, Slot(m))
	}
	return out
}

// SlotOf buckets a minutes-since-midnight value to its slot floor.
func SlotOf(minutes int) Slot {
	return Slot(minutes - minutes%SlotMinutes)
}
