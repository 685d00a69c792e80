// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import (
	"math/rand"

	"github.com/tomtom215/parkwaits/internal/models"
)

// reservoir keeps a uniform sample of newly written rows across a run, saved
// alongside the fact tables for eyeballing.
type reservoir struct {
	k     int
	seen  int
	items []models.Observation
	rng   *rand.Rand
}

func newReservoir(k int) *reservoir {
	return &reservoir{
		k:   k,
		rng: rand.New(rand.NewSource(1234)),
	}
}

func (r *reservoir) observe(obs []models.Observation) {
	if r.k <= 0 {
		return
	}
	for _, o := range obs {
		if len(r.items) < r.k {
			r.items = append(r.items, o)
		} else if j := r.rng.Intn(r.seen + 1); j < r.k {
			r.items[j] = o
		}
		r.seen++
	}
}
