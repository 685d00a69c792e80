// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/monitor"
	"github.com/tomtom215/parkwaits/internal/staging"
	"github.com/tomtom215/parkwaits/internal/state"
	"github.com/tomtom215/parkwaits/internal/supervisor"
)

// newPollLiveCmd runs the long-lived queue-times poller under the poller
// lock, supervised together with the monitoring view.
func newPollLiveCmd(load appLoader) *cobra.Command {
	var (
		intervalSecs  int
		noHoursFilter bool
		once          bool
	)
	cmd := &cobra.Command{
		Use:   "poll-live",
		Short: "Continuously poll the live wait time feed into staging",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}

			lock := state.NewFileLock(a.layout.PollerLockPath(), "poll-live")
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer lock.Release()

			zones, err := a.parkZones()
			if err != nil {
				return err
			}

			liveDB, err := state.OpenBadger(a.layout.LiveDedupDBDir())
			if err != nil {
				return err
			}
			defer liveDB.Close()

			mapping, err := staging.LoadEntityMapping(a.cfg.Live.EntityMappingPath)
			if err != nil {
				return err
			}
			if mapping.Len() == 0 {
				logging.Warn().Msg("Entity mapping empty; all live rides will be reported unmapped")
			}

			var hours *dimensions.ParkHoursTable
			if path := a.dimensionPath("dim_park_hours_versioned.csv", "dimparkhours_versioned.csv", "dimparkhours.csv"); path != "" {
				if tbl, err := dimensions.LoadParkHours(path); err == nil {
					hours = tbl
				} else {
					logging.Warn().Err(err).Msg("Could not load park hours; polling every park")
				}
			}

			interval := a.cfg.Live.PollInterval
			if intervalSecs > 0 {
				interval = time.Duration(intervalSecs) * time.Second
			}

			parkMap := make(map[int]string, len(a.cfg.Live.ParkMap))
			for idStr, park := range a.cfg.Live.ParkMap {
				id, err := strconv.Atoi(idStr)
				if err != nil {
					return fmt.Errorf("%w: live park_map key %q is not numeric", errConfig, idStr)
				}
				parkMap[id] = park
			}

			poller := staging.NewPoller(staging.PollerConfig{
				Interval:         interval,
				ParkMap:          parkMap,
				ParkZones:        zones,
				WindowBeforeOpen: a.cfg.Live.WindowBeforeOpen,
				WindowAfterClose: a.cfg.Live.WindowAfterClose,
				StaleAfter:       a.cfg.Live.StaleAfter,
				UseHoursFilter:   !noHoursFilter,
			}, staging.NewFeedClient(a.cfg.Live.BaseURL, a.cfg.Live.RequestTimeout, a.cfg.Live.RatePerSecond),
				a.layout, state.NewDedupSet(liveDB), hours, mapping)

			if once {
				staged, err := poller.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				logging.Info().Int("rows", staged).Msg("Single poll cycle complete")
				return nil
			}

			tree := supervisor.NewTree(slog.Default(), supervisor.DefaultTreeConfig())
			tree.Add(poller)
			if a.cfg.Monitor.Enabled {
				addr := fmt.Sprintf("%s:%d", a.cfg.Monitor.Host, a.cfg.Monitor.Port)
				tree.Add(monitor.NewServer(addr, a.layout))
			}
			err = tree.Serve(cmd.Context())
			if cmd.Context().Err() != nil {
				logging.Info().Msg("Poller stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&intervalSecs, "interval", 0, "poll interval in seconds (default: configured)")
	cmd.Flags().BoolVar(&noHoursFilter, "no-hours-filter", false, "poll all mapped parks regardless of operating hours")
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	return cmd
}

// newServeStatusCmd serves the monitoring view on its own, for hosts that
// run the pipeline but not the poller.
func newServeStatusCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-status",
		Short: "Serve the read-only status and metrics view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			addr := fmt.Sprintf("%s:%d", a.cfg.Monitor.Host, a.cfg.Monitor.Port)
			srv := monitor.NewServer(addr, a.layout)
			err = srv.Serve(cmd.Context())
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}
