// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package main is the parkwaits command line interface.
//
// The binary exposes every stage of the pipeline as a subcommand. The daily
// historical run is `ingest` (which performs the morning staging merge
// first); the long-lived live poller is `poll-live`; the modeling stages are
// `train-batch`, `build-posted-aggregates`, `forecast`, `backfill`, and
// `wti`.
//
// Exit codes:
//
//	0  success
//	1  validation failed or a pipeline step failed
//	2  lock contention (another instance is running)
//	3  fatal configuration error
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/parkwaits/internal/config"
	"github.com/tomtom215/parkwaits/internal/dimensions"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/modeling"
	"github.com/tomtom215/parkwaits/internal/state"

	"github.com/dgraph-io/badger/v4"
)

// Exit codes per the pipeline contract.
const (
	exitOK     = 0
	exitFailed = 1
	exitLock   = 2
	exitConfig = 3
)

// errConfig marks fatal configuration errors for exit-code mapping.
var errConfig = errors.New("configuration error")

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	layout state.Layout
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.ExecuteContext(ctx); err != nil {
		switch {
		case errors.Is(err, state.ErrLockHeld):
			logging.Error().Err(err).Msg("Another instance is already running")
			return exitLock
		case errors.Is(err, errConfig):
			logging.Error().Err(err).Msg("Fatal configuration error")
			return exitConfig
		default:
			logging.Error().Err(err).Msg("Command failed")
			return exitFailed
		}
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "parkwaits",
		Short:         "Theme park wait time pipeline and modeling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: config.yaml search)")

	loadApp := func(cmd *cobra.Command) (*app, error) {
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFrom(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errConfig, err)
		}

		logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		layout := state.NewLayout(cfg.OutputBase)
		if err := layout.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("%w: %v", errConfig, err)
		}
		if _, err := logging.InitRunFile(layout.LogsDir(), cmd.Name(), cfg.Logging.Level); err != nil {
			logging.Warn().Err(err).Msg("Could not open run log file; continuing on stderr only")
		}
		return &app{cfg: cfg, layout: layout}, nil
	}

	root.AddCommand(
		newIngestCmd(loadApp),
		newMergeStagingCmd(loadApp),
		newIndexCmd(loadApp),
		newValidateCmd(loadApp),
		newTrainBatchCmd(loadApp),
		newTrainEntityCmd(loadApp),
		newPostedAggregatesCmd(loadApp),
		newForecastCmd(loadApp),
		newBackfillCmd(loadApp),
		newWTICmd(loadApp),
		newPollLiveCmd(loadApp),
		newServeStatusCmd(loadApp),
	)
	return root
}

// appLoader resolves the configured app for a command invocation.
type appLoader func(cmd *cobra.Command) (*app, error)

// withPipelineLock runs fn while holding the exclusive pipeline lock.
func (a *app) withPipelineLock(owner string, fn func() error) error {
	lock := state.NewFileLock(a.layout.PipelineLockPath(), owner)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// openDedup opens the canonical dedup store.
func (a *app) openDedup() (*badger.DB, *state.DedupSet, error) {
	db, err := state.OpenBadger(a.layout.DedupDBDir())
	if err != nil {
		return nil, nil, err
	}
	return db, state.NewDedupSet(db), nil
}

// openIndex opens the entity index store.
func (a *app) openIndex() (*badger.DB, *state.EntityIndex, error) {
	db, err := state.OpenBadger(a.layout.EntityIndexDBDir())
	if err != nil {
		return nil, nil, err
	}
	idx, err := state.NewEntityIndex(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, idx, nil
}

// dimensionPath returns the first existing candidate under the dimension
// tables directory.
func (a *app) dimensionPath(candidates ...string) string {
	for _, name := range candidates {
		p := a.layout.DimensionsDir() + "/" + name
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadEntityDirectory reads dim_entity when present.
func (a *app) loadEntityDirectory() *dimensions.EntityDirectory {
	path := a.dimensionPath("dimentity.csv", "dim_entity.csv")
	if path == "" {
		logging.Warn().Msg("dim_entity not found; priority-queue flags default to false")
		return dimensions.NewEntityDirectory(nil)
	}
	rows, err := dimensions.LoadEntities(path)
	if err != nil {
		logging.Warn().Err(err).Msg("Could not load dim_entity")
		return dimensions.NewEntityDirectory(nil)
	}
	return dimensions.NewEntityDirectory(rows)
}

// loadModelingDims loads the calendar dimensions and park hours for the
// modeling stages.
func (a *app) loadModelingDims() (modeling.FeatureDims, map[string]int, map[string]dimensions.SeasonRow, *dimensions.ParkHoursTable) {
	var dategroups []dimensions.DategroupRow
	if path := a.dimensionPath("dimdategroupid.csv", "dim_dategroupid.csv"); path != "" {
		if rows, err := dimensions.LoadDategroups(path); err == nil {
			dategroups = rows
		} else {
			logging.Warn().Err(err).Msg("Could not load dim_dategroupid")
		}
	}
	var seasons []dimensions.SeasonRow
	if path := a.dimensionPath("dimseason.csv", "dim_season.csv"); path != "" {
		if rows, err := dimensions.LoadSeasons(path); err == nil {
			seasons = rows
		} else {
			logging.Warn().Err(err).Msg("Could not load dim_season")
		}
	}
	var hours *dimensions.ParkHoursTable
	if path := a.dimensionPath("dim_park_hours_versioned.csv", "dimparkhours_versioned.csv", "dimparkhours.csv"); path != "" {
		if tbl, err := dimensions.LoadParkHours(path); err == nil {
			hours = tbl
		} else {
			logging.Warn().Err(err).Msg("Could not load park hours dimension")
		}
	}

	dims := modeling.NewFeatureDims(dategroups, seasons, hours)
	dgMap := make(map[string]int, len(dategroups))
	for _, r := range dategroups {
		dgMap[r.ParkDate] = r.DateGroupID
	}
	seasonMap := make(map[string]dimensions.SeasonRow, len(seasons))
	for _, r := range seasons {
		seasonMap[r.ParkDate] = r
	}
	return dims, dgMap, seasonMap, hours
}

// parkZones resolves the configured park timezone table.
func (a *app) parkZones() (map[string]*time.Location, error) {
	out := make(map[string]*time.Location, len(a.cfg.ParkTimezones))
	for park, name := range a.cfg.ParkTimezones {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("%w: park %s timezone %q", errConfig, park, name)
		}
		out[park] = loc
	}
	return out, nil
}
