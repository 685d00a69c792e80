// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/source"
	"github.com/tomtom215/parkwaits/internal/staging"
	"github.com/tomtom215/parkwaits/internal/state"
)

// newIngestCmd is the daily historical run: morning staging merge, then
// incremental source ingest, under the exclusive pipeline lock.
func newIngestCmd(load appLoader) *cobra.Command {
	var (
		fullRebuild bool
		scopes      string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Merge yesterday's staging, then ingest new historical source files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			return a.withPipelineLock("ingest", func() error {
				return runIngest(cmd, a, fullRebuild, scopes)
			})
		},
	}
	cmd.Flags().BoolVar(&fullRebuild, "full-rebuild", false, "ignore processed catalog, clear dedup set, truncate fact store")
	cmd.Flags().StringVar(&scopes, "scopes", "", "comma-separated property scopes (default: configured)")
	return cmd
}

func runIngest(cmd *cobra.Command, a *app, fullRebuild bool, scopes string) error {
	ctx := cmd.Context()
	status := state.NewStatusRecorder(a.layout.StatusPath())

	dedupDB, dedup, err := a.openDedup()
	if err != nil {
		return err
	}
	defer dedupDB.Close()
	indexDB, index, err := a.openIndex()
	if err != nil {
		return err
	}
	defer indexDB.Close()

	writer := fact.NewWriter(a.layout, dedup, index)

	// Morning merge runs first so fact tables stay static until the daily
	// load.
	if err := status.StepRunning("merge_staging"); err != nil {
		return err
	}
	merger := staging.NewMerger(a.layout, writer)
	if _, err := merger.MergeYesterday(ctx, time.Now()); err != nil {
		//nolint:errcheck // status write failure must not mask the step error
		status.StepFailed("merge_staging", err)
		return fmt.Errorf("morning merge: %w", err)
	}
	if err := status.StepDone("merge_staging"); err != nil {
		return err
	}

	if err := status.StepRunning("ingest"); err != nil {
		return err
	}
	catalog, err := state.LoadProcessedCatalog(a.layout.ProcessedFilesPath())
	if err != nil {
		return err
	}
	tally, err := state.LoadFailureTally(a.layout.FailedFilesPath(), a.cfg.Ingest.FailThreshold, a.cfg.Ingest.OldDays)
	if err != nil {
		return err
	}

	properties := a.cfg.Ingest.Properties
	if scopes != "" {
		properties = strings.Split(scopes, ",")
		for i := range properties {
			properties[i] = strings.TrimSpace(properties[i])
		}
	}

	opts := source.Options{
		Properties:           properties,
		StandbyPrefixFormat:  a.cfg.Ingest.StandbyPrefixFormat,
		PriorityPrefixFormat: a.cfg.Ingest.PriorityPrefixFormat,
		PropertyTimezones:    a.cfg.Ingest.PropertyTimezones,
		ChunkSize:            a.cfg.Ingest.ChunkSize,
		FullRebuild:          fullRebuild,
		Retry: source.RetryPolicy{
			MaxAttempts:    a.cfg.Ingest.RetryAttempts,
			InitialBackoff: a.cfg.Ingest.RetryInitialBackoff,
		},
		SampleK: a.cfg.Ingest.SampleK,
	}
	if fullRebuild {
		opts.TruncateFacts = func() error {
			if err := os.RemoveAll(a.layout.FactDir()); err != nil {
				return err
			}
			return os.MkdirAll(a.layout.FactDir(), 0o750)
		}
	}

	store := source.NewFSObjectStore(a.cfg.Ingest.SourceRoot)
	ingestor := source.NewIngestor(store, writer, catalog, tally, dedup)
	res, err := ingestor.Ingest(ctx, opts)
	if err != nil {
		//nolint:errcheck // status write failure must not mask the step error
		status.StepFailed("ingest", err)
		return err
	}
	if err := status.StepDone("ingest"); err != nil {
		return err
	}

	if err := saveSample(a, res); err != nil {
		logging.Warn().Err(err).Msg("Could not write reservoir sample")
	}
	logging.Info().
		Int("files_processed", res.FilesProcessed).
		Int("files_failed", res.FilesFailed).
		Int("rows_written", res.RowsWritten).
		Msg("Ingest run finished")
	if res.FilesFailed > 0 {
		return fmt.Errorf("%d source files failed", res.FilesFailed)
	}
	return nil
}

// saveSample writes the run's reservoir sample under samples/YYYY-MM/.
func saveSample(a *app, res *source.Result) error {
	if len(res.Sample) == 0 {
		return nil
	}
	ym := time.Now().Format("2006-01")
	dir := a.layout.SamplesDir(ym)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := fact.WriteAll(&buf, res.Sample); err != nil {
		return err
	}
	return state.WriteFileAtomic(dir+"/wait_time_fact_table_sample.csv", buf.Bytes(), 0o640)
}

// newMergeStagingCmd runs the morning merge on its own.
func newMergeStagingCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "merge-staging",
		Short: "Merge yesterday's staged live rows into the canonical store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			return a.withPipelineLock("merge-staging", func() error {
				dedupDB, dedup, err := a.openDedup()
				if err != nil {
					return err
				}
				defer dedupDB.Close()
				indexDB, index, err := a.openIndex()
				if err != nil {
					return err
				}
				defer indexDB.Close()

				merger := staging.NewMerger(a.layout, fact.NewWriter(a.layout, dedup, index))
				res, err := merger.MergeYesterday(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				logging.Info().Int("rows", res.RowsMerged).Msg("Merge complete")
				return nil
			})
		},
	}
}

// newIndexCmd holds the entity index maintenance subcommands.
func newIndexCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Entity index maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Reconstruct the entity index from a full fact scan",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := load(c)
			if err != nil {
				return err
			}
			return a.withPipelineLock("index-rebuild", func() error {
				indexDB, index, err := a.openIndex()
				if err != nil {
					return err
				}
				defer indexDB.Close()

				recs, err := fact.RebuildIndex(a.layout)
				if err != nil {
					return err
				}
				if err := index.ReplaceAll(recs); err != nil {
					return err
				}
				logging.Info().Int("entities", len(recs)).Msg("Entity index rebuilt")
				return nil
			})
		},
	})
	return cmd
}

// newValidateCmd scans the canonical store against the documented
// constraints.
func newValidateCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the canonical store against the documented row constraints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			rep, err := fact.Validate(a.layout)
			if err != nil {
				return err
			}
			if !rep.Clean() {
				return fmt.Errorf("validation failed: %d invalid, %d duplicate, %d misplaced, %d undecodable rows",
					rep.InvalidRows, rep.DuplicateRows, rep.MisplacedRows, rep.UndecodableRows)
			}
			logging.Info().Int("rows", rep.RowsScanned).Int("outliers", rep.OutlierRows).Msg("Canonical store valid")
			return nil
		},
	}
}
