// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package staging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/metrics"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// PollerConfig carries the live poller settings.
type PollerConfig struct {
	Interval         time.Duration
	ParkMap          map[int]string // provider park ID -> park code
	ParkZones        map[string]*time.Location
	WindowBeforeOpen time.Duration
	WindowAfterClose time.Duration
	StaleAfter       time.Duration
	UseHoursFilter   bool
}

// Poller is the long-running live staging process. Each cycle fetches
// the in-window parks, maps rides to entities, dedups against the
// poller-scoped set, and appends to staging files. It never touches fact/.
type Poller struct {
	cfg     PollerConfig
	client  *FeedClient
	layout  state.Layout
	dedup   *state.DedupSet
	hours   *dimensions.ParkHoursTable
	mapping *EntityMapping
	log     zerolog.Logger
}

// NewPoller assembles a poller. hours may be nil when the dimension is
// unavailable; every park is then treated as in-window.
func NewPoller(cfg PollerConfig, client *FeedClient, layout state.Layout, dedup *state.DedupSet, hours *dimensions.ParkHoursTable, mapping *EntityMapping) *Poller {
	return &Poller{
		cfg:     cfg,
		client:  client,
		layout:  layout,
		dedup:   dedup,
		hours:   hours,
		mapping: mapping,
		log:     logging.Component("poller"),
	}
}

// Serve runs poll cycles until the context is canceled. It satisfies the
// suture service contract.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		staged, err := p.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			metrics.PollCycles.WithLabelValues("error").Inc()
			p.log.Error().Err(err).Msg("Poll cycle failed")
		case staged == 0:
			metrics.PollCycles.WithLabelValues("idle").Inc()
		default:
			metrics.PollCycles.WithLabelValues("fetched").Inc()
			p.log.Info().Int("rows", staged).Msg("Staged live rows")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single poll cycle and returns the number of staged
// rows.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	inWindow := p.parksInWindow(now)
	if len(inWindow) == 0 {
		p.log.Debug().Msg("No parks in polling window")
		return 0, nil
	}

	total := 0
	unmapped := newUnmappedReport(p.layout)
	for parkID, parkCode := range inWindow {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		staged, err := p.pollPark(ctx, parkID, parkCode, now, unmapped)
		if err != nil {
			p.log.Warn().Err(err).Str("park", parkCode).Msg("Park poll failed")
			continue
		}
		total += staged
	}
	if err := unmapped.flush(); err != nil {
		p.log.Warn().Err(err).Msg("Could not write unmapped rides report")
	}
	return total, nil
}

// parksInWindow selects the parks whose polling window covers now.
func (p *Poller) parksInWindow(now time.Time) map[int]string {
	out := make(map[int]string)
	for parkID, parkCode := range p.cfg.ParkMap {
		loc, ok := p.cfg.ParkZones[parkCode]
		if !ok {
			continue
		}
		if !p.cfg.UseHoursFilter || p.hours == nil ||
			InWindow(p.hours, parkCode, loc, now, p.cfg.WindowBeforeOpen, p.cfg.WindowAfterClose) {
			out[parkID] = parkCode
		}
	}
	return out
}

// pollPark fetches one park and appends its new observations to staging.
func (p *Poller) pollPark(ctx context.Context, parkID int, parkCode string, fetchTime time.Time, unmapped *unmappedReport) (int, error) {
	rides, err := p.client.FetchParkRides(ctx, parkID)
	if err != nil {
		return 0, err
	}
	loc := p.cfg.ParkZones[parkCode]

	var obs []models.Observation
	for _, ride := range rides {
		if !ride.IsOpen || ride.WaitTime == nil || ride.LastUpdated == "" {
			continue
		}
		entity, ok := p.mapping.Lookup(parkCode, ride.ID)
		if !ok {
			metrics.PollUnmappedRides.Inc()
			unmapped.record(parkCode, ride.ID, ride.Name)
			continue
		}
		at, err := ParseLastUpdated(ride.LastUpdated, loc)
		if err != nil {
			p.log.Warn().Err(err).Str("ride", ride.Name).Msg("Bad last_updated stamp")
			continue
		}
		if age := fetchTime.Sub(at); age > p.cfg.StaleAfter {
			p.log.Warn().
				Str("entity", entity).
				Dur("age", age).
				Msg("Stale upstream observation")
		}
		obs = append(obs, models.Observation{
			EntityCode: entity,
			ObservedAt: at,
			Type:       models.WaitTypePosted,
			Minutes:    *ride.WaitTime,
		})
	}
	if len(obs) == 0 {
		return 0, nil
	}

	mask, err := p.dedup.InsertBatch(obs)
	if err != nil {
		return 0, fmt.Errorf("poller dedup: %w", err)
	}
	fresh := obs[:0]
	for i, o := range obs {
		if mask[i] {
			fresh = append(fresh, o)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	staged, err := p.appendStaging(fresh)
	if err != nil {
		return 0, err
	}
	metrics.PollRowsStaged.Add(float64(staged))
	return staged, nil
}

// appendStaging groups observations by (park, park_date) and atomically
// appends each group to its staging file.
func (p *Poller) appendStaging(obs []models.Observation) (int, error) {
	type key struct{ park, date string }
	groups := make(map[key][]models.Observation)
	for _, o := range obs {
		groups[key{o.ParkCode(), o.ParkDate()}] = append(groups[key{o.ParkCode(), o.ParkDate()}], o)
	}

	total := 0
	for k, rows := range groups {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].ObservedAt.Before(rows[j].ObservedAt)
		})
		path := p.layout.StagingFilePath(k.park, k.date)
		existing, _, err := fact.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return total, fmt.Errorf("read staging %s: %w", path, err)
		}

		merged := append(existing, rows...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].ObservedAt.Before(merged[j].ObservedAt)
		})

		var buf bytes.Buffer
		if err := fact.WriteAll(&buf, merged); err != nil {
			return total, err
		}
		if err := state.WriteFileAtomic(path, buf.Bytes(), 0o640); err != nil {
			return total, fmt.Errorf("write staging %s: %w", path, err)
		}
		total += len(rows)
	}
	return total, nil
}

// unmappedReport accumulates live rides with no entity mapping, deduplicated
// per run, and appends them to reports/queue_times_unmapped.csv.
type unmappedReport struct {
	layout state.Layout
	seen   map[string]struct{}
	rows   [][3]string
}

func newUnmappedReport(layout state.Layout) *unmappedReport {
	return &unmappedReport{layout: layout, seen: make(map[string]struct{})}
}

func (u *unmappedReport) record(parkCode string, rideID int, name string) {
	key := parkCode + "|" + strconv.Itoa(rideID)
	if _, dup := u.seen[key]; dup {
		return
	}
	u.seen[key] = struct{}{}
	u.rows = append(u.rows, [3]string{parkCode, strconv.Itoa(rideID), name})
}

func (u *unmappedReport) flush() error {
	if len(u.rows) == 0 {
		return nil
	}
	path := u.layout.ReportsDir() + "/queue_times_unmapped.csv"
	var buf bytes.Buffer
	existing, err := os.ReadFile(path)
	if err == nil {
		buf.Write(existing)
	} else {
		buf.WriteString("park_code,queue_times_id,queue_times_name\n")
	}
	for _, row := range u.rows {
		buf.WriteString(row[0] + "," + row[1] + "," + csvEscape(row[2]) + "\n")
	}
	return state.WriteFileAtomic(path, buf.Bytes(), 0o640)
}

func csvEscape(s string) string {
	if bytes.ContainsAny([]byte(s), ",\"\n") {
		return `"` + string(bytes.ReplaceAll([]byte(s), []byte(`"`), []byte(`""`))) + `"`
	}
	return s
}
