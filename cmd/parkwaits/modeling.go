// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/parkwaits/internal/curves"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/modeling"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// buildDeps assembles the modeling dependency bundle shared by the training
// and curve commands.
func buildDeps(a *app, index *state.EntityIndex) (*modeling.Deps, error) {
	enc, err := modeling.LoadLabelEncoder(a.layout.EncodingMappingsPath())
	if err != nil {
		return nil, err
	}
	dims, _, _, _ := a.loadModelingDims()
	return &modeling.Deps{
		Layout:    a.layout,
		Index:     index,
		Directory: a.loadEntityDirectory(),
		Dims:      dims,
		Encoder:   enc,
		Trainer:   modeling.DefaultTrainer(),
		Cfg:       a.cfg.Modeling,
	}, nil
}

func newTrainBatchCmd(load appLoader) *cobra.Command {
	var (
		minAgeHours float64
		minObs      int
		workers     int
		stopOnError bool
	)
	cmd := &cobra.Command{
		Use:   "train-batch",
		Short: "Train models for every entity with new observations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			return a.withPipelineLock("train-batch", func() error {
				indexDB, index, err := a.openIndex()
				if err != nil {
					return err
				}
				defer indexDB.Close()

				deps, err := buildDeps(a, index)
				if err != nil {
					return err
				}
				if minAgeHours < 0 {
					minAgeHours = a.cfg.Modeling.MinAgeHours
				}
				if minObs <= 0 {
					minObs = a.cfg.Modeling.MinObservations
				}
				status := state.NewStatusRecorder(a.layout.StatusPath())
				if err := status.StepRunning("training"); err != nil {
					return err
				}
				res, err := modeling.TrainBatch(cmd.Context(), deps, status, modeling.BatchOptions{
					MinAge:          time.Duration(minAgeHours * float64(time.Hour)),
					MinObservations: minObs,
					Workers:         workers,
					StopOnError:     stopOnError,
					EntityTimeout:   a.cfg.Modeling.EntityTimeout,
				})
				if err != nil {
					//nolint:errcheck // status write failure must not mask the step error
					status.StepFailed("training", err)
					return err
				}
				if err := status.StepDone("training"); err != nil {
					return err
				}
				logging.Info().
					Int("done", res.Done).
					Int("failed", res.Failed).
					Int("timed_out", res.TimedOut).
					Msg("Batch training finished")
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minAgeHours, "min-age-hours", -1, "minimum age of the newest observation (default: configured)")
	cmd.Flags().IntVar(&minObs, "min-observations", 0, "minimum target observations (default: configured)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default: auto)")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "exit nonzero if any entity failed")
	return cmd
}

func newTrainEntityCmd(load appLoader) *cobra.Command {
	var (
		entity string
		sample int
	)
	cmd := &cobra.Command{
		Use:   "train-entity",
		Short: "Train models for one entity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			return a.withPipelineLock("train-entity", func() error {
				indexDB, index, err := a.openIndex()
				if err != nil {
					return err
				}
				defer indexDB.Close()

				deps, err := buildDeps(a, index)
				if err != nil {
					return err
				}
				outcome, err := modeling.TrainEntity(cmd.Context(), deps, entity, sample)
				if err != nil {
					return fmt.Errorf("entity %s: %w", entity, err)
				}
				logging.Info().Str("entity", entity).Str("outcome", string(outcome)).Msg("Entity trained")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity code (required)")
	cmd.Flags().IntVar(&sample, "sample", 0, "train on the most recent N rows only")
	//nolint:errcheck // flag is statically known
	cmd.MarkFlagRequired("entity")
	return cmd
}

func newPostedAggregatesCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "build-posted-aggregates",
		Short: "Build the posted-value aggregates used for future POSTED imputation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			dgPath := a.dimensionPath("dimdategroupid.csv", "dim_dategroupid.csv")
			if dgPath == "" {
				return fmt.Errorf("dim_dategroupid not found under %s", a.layout.DimensionsDir())
			}
			cells, err := modeling.BuildPostedAggregates(cmd.Context(), a.layout, dgPath)
			if err != nil {
				return err
			}
			logging.Info().Int("cells", cells).Msg("Posted aggregates ready")
			return nil
		},
	}
}

// curveEntities resolves which entities to generate curves for: --park
// filters the index to one park; otherwise every indexed entity.
func curveEntities(a *app, index *state.EntityIndex, park string) ([]string, error) {
	recs, err := index.All()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range recs {
		if park != "" && models.ParkFromEntity(r.EntityCode) != park {
			continue
		}
		out = append(out, r.EntityCode)
	}
	return out, nil
}

func parseDateFlag(s, name string) (time.Time, error) {
	t, err := time.Parse(models.ParkDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", name, s)
	}
	return t, nil
}

func newForecastCmd(load appLoader) *cobra.Command {
	var (
		park string
		from string
		to   string
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Generate forward-looking 5-minute curves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			indexDB, index, err := a.openIndex()
			if err != nil {
				return err
			}
			defer indexDB.Close()

			fromDay := time.Now().AddDate(0, 0, 1)
			if from != "" {
				if fromDay, err = parseDateFlag(from, "from"); err != nil {
					return err
				}
			}
			toDay := fromDay.AddDate(0, 0, 13)
			if to != "" {
				if toDay, err = parseDateFlag(to, "to"); err != nil {
					return err
				}
			}

			entities, err := curveEntities(a, index, park)
			if err != nil {
				return err
			}
			enc, err := modeling.LoadLabelEncoder(a.layout.EncodingMappingsPath())
			if err != nil {
				return err
			}
			_, dgMap, seasonMap, hours := a.loadModelingDims()
			if hours == nil {
				return fmt.Errorf("park hours dimension required for forecasting")
			}

			var lookup *modeling.PostedLookup
			if rows, err := modeling.LoadPostedAggregates(cmd.Context(), a.layout); err == nil {
				lookup = modeling.NewPostedLookup(rows)
			} else {
				logging.Warn().Err(err).Msg("Posted aggregates unavailable; posted_predicted will be empty")
			}

			files, err := curves.GenerateForecast(cmd.Context(), curves.ForecastDeps{
				Layout:     a.layout,
				Hours:      hours,
				Dategroups: dgMap,
				Seasons:    seasonMap,
				Posted:     lookup,
				Encoder:    enc,
				Trainer:    modeling.DefaultTrainer(),
			}, entities, fromDay, toDay)
			if err != nil {
				return err
			}
			logging.Info().Int("files", files).Msg("Forecast complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&park, "park", "", "restrict to one park code")
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (default: tomorrow)")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD (default: from+13d, capped at +2y)")
	return cmd
}

func newBackfillCmd(load appLoader) *cobra.Command {
	var (
		entity string
		from   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate historical 5-minute actual curves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			indexDB, index, err := a.openIndex()
			if err != nil {
				return err
			}
			defer indexDB.Close()

			fromDay, err := parseDateFlag(from, "from")
			if err != nil {
				return err
			}
			toDay, err := parseDateFlag(to, "to")
			if err != nil {
				return err
			}

			var entities []string
			if entity != "" {
				entities = []string{entity}
			} else if entities, err = curveEntities(a, index, ""); err != nil {
				return err
			}

			enc, err := modeling.LoadLabelEncoder(a.layout.EncodingMappingsPath())
			if err != nil {
				return err
			}
			_, dgMap, seasonMap, hours := a.loadModelingDims()
			if hours == nil {
				return fmt.Errorf("park hours dimension required for backfill")
			}

			files, err := curves.GenerateBackfill(cmd.Context(), curves.BackfillDeps{
				Layout:     a.layout,
				Hours:      hours,
				Dategroups: dgMap,
				Seasons:    seasonMap,
				Encoder:    enc,
				Trainer:    modeling.DefaultTrainer(),
			}, entities, fromDay, toDay)
			if err != nil {
				return err
			}
			logging.Info().Int("files", files).Msg("Backfill complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "restrict to one entity code")
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD (required)")
	//nolint:errcheck // flags are statically known
	cmd.MarkFlagRequired("from")
	//nolint:errcheck // flags are statically known
	cmd.MarkFlagRequired("to")
	return cmd
}

func newWTICmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "wti",
		Short: "Aggregate curves into the daily Wait Time Index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			rows, err := curves.BuildWTI(cmd.Context(), a.layout)
			if err != nil {
				return err
			}
			logging.Info().Int("rows", rows).Msg("WTI complete")
			return nil
		},
	}
}
