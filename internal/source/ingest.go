// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/parkwaits/internal/fact"
	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/metrics"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// Sink accepts parsed canonical record batches. The production sink is the
// canonical writer.
type Sink interface {
	WriteBatch(ctx context.Context, obs []models.Observation) (fact.BatchResult, error)
}

// Options configures one ingest run.
type Options struct {
	// Properties are the property scopes to list (wdw, dlr, ...).
	Properties []string

	// StandbyPrefixFormat and PriorityPrefixFormat locate the source
	// objects; %s is the property.
	StandbyPrefixFormat  string
	PriorityPrefixFormat string

	// PropertyTimezones stamps parsed local times; missing properties fall
	// back to Eastern.
	PropertyTimezones map[string]string

	// ChunkSize bounds the row batches streamed through the parsers.
	ChunkSize int

	// FullRebuild ignores the processed catalog and clears the dedup set
	// before ingesting. TruncateFacts, when set, empties the canonical
	// store first; rebuild is the only path that ever truncates it.
	FullRebuild   bool
	TruncateFacts func() error

	// Retry is the transient I/O policy.
	Retry RetryPolicy

	// SampleK is the reservoir sample size (0 disables sampling).
	SampleK int
}

// Result reports one ingest run.
type Result struct {
	FilesDiscovered   int
	FilesProcessed    int
	FilesSkipped      int // already processed at current marker
	FilesQuarantined  int
	FilesUnknown      int
	FilesFailed       int
	RowsWritten       int
	RowsDuplicate     int
	RowsInvalid       int
	RowsByType        map[models.WaitTimeType]int
	RowsByPark        map[string]int
	Sample            []models.Observation
}

// Ingestor wires the object store, the canonical writer, and the state
// catalogs into the incremental ingest workflow.
type Ingestor struct {
	store   ObjectStore
	sink    Sink
	catalog *state.ProcessedCatalog
	tally   *state.FailureTally
	dedup   *state.DedupSet
}

// NewIngestor assembles an ingestor. dedup is only used for the
// full-rebuild clear; normal dedup happens inside the sink.
func NewIngestor(store ObjectStore, sink Sink, catalog *state.ProcessedCatalog, tally *state.FailureTally, dedup *state.DedupSet) *Ingestor {
	return &Ingestor{store: store, sink: sink, catalog: catalog, tally: tally, dedup: dedup}
}

// Ingest runs discovery, classification, and per-file processing. Per-file
// failures are tallied and absorbed; the error return is reserved for
// run-level failures (listing, state persistence, context cancellation).
func (g *Ingestor) Ingest(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{
		RowsByType: make(map[models.WaitTimeType]int),
		RowsByPark: make(map[string]int),
	}

	if opts.FullRebuild {
		logging.Info().Msg("Full rebuild: clearing dedup set and ignoring processed catalog")
		if err := g.dedup.Clear(); err != nil {
			return nil, fmt.Errorf("clear dedup set: %w", err)
		}
		if opts.TruncateFacts != nil {
			if err := opts.TruncateFacts(); err != nil {
				return nil, fmt.Errorf("truncate fact store: %w", err)
			}
		}
	}

	objects, err := g.discover(ctx, opts)
	if err != nil {
		return nil, err
	}
	res.FilesDiscovered = len(objects)

	selected := make([]ObjectInfo, 0, len(objects))
	for _, obj := range objects {
		if !opts.FullRebuild && g.catalog.IsProcessed(obj.Key, obj.LastModified) {
			res.FilesSkipped++
			continue
		}
		if g.tally.Quarantined(obj.Key, obj.LastModified) {
			res.FilesQuarantined++
			logging.Info().
				Str("key", obj.Key).
				Int("failures", g.tally.Failures(obj.Key)).
				Msg("Skipping quarantined file")
			continue
		}
		selected = append(selected, obj)
	}
	logging.Info().
		Int("discovered", res.FilesDiscovered).
		Int("selected", len(selected)).
		Int("skipped", res.FilesSkipped).
		Int("quarantined", res.FilesQuarantined).
		Msg("Source discovery complete")

	sampler := newReservoir(opts.SampleK)

	for i, obj := range selected {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fileType := Classify(obj.Key)
		if fileType == FileUnknown {
			res.FilesUnknown++
			logging.Warn().Str("key", obj.Key).Msg("Unrecognized file type, skipping")
			continue
		}

		logging.Info().
			Str("key", obj.Key).
			Str("type", string(fileType)).
			Int("position", i+1).
			Int("total", len(selected)).
			Msg("Processing source file")

		stats, err := g.processFile(ctx, obj, fileType, opts, res, sampler)
		if err != nil {
			res.FilesFailed++
			metrics.IngestFilesFailed.Inc()
			g.tally.RecordFailure(obj.Key, obj.LastModified, err)
			logging.Error().Err(err).Str("key", obj.Key).Msg("File failed")
			continue
		}

		res.FilesProcessed++
		res.RowsInvalid += stats.RowsInvalid
		metrics.IngestFilesProcessed.Inc()
		g.catalog.MarkProcessed(obj.Key, obj.LastModified)
		g.tally.ClearFailure(obj.Key)
		if err := g.saveState(); err != nil {
			return res, err
		}
	}

	res.Sample = sampler.items
	logging.Info().
		Int("files_processed", res.FilesProcessed).
		Int("files_failed", res.FilesFailed).
		Int("rows_written", res.RowsWritten).
		Int("rows_duplicate", res.RowsDuplicate).
		Int("rows_invalid", res.RowsInvalid).
		Msg("Ingest complete")
	return res, nil
}

// discover lists every candidate key under the standby and priority prefixes
// of each property scope.
func (g *Ingestor) discover(ctx context.Context, opts Options) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for _, prop := range opts.Properties {
		for _, format := range []string{opts.StandbyPrefixFormat, opts.PriorityPrefixFormat} {
			prefix := fmt.Sprintf(format, prop)
			objs, err := g.store.List(ctx, prefix)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", prefix, err)
			}
			out = append(out, objs...)
		}
	}
	return out, nil
}

// processFile streams one object through its parser into the sink, under the
// retry policy. Transient errors restart the whole file; the dedup set makes
// the re-emit idempotent at the row level.
func (g *Ingestor) processFile(ctx context.Context, obj ObjectInfo, fileType FileType, opts Options, res *Result, sampler *reservoir) (ChunkStats, error) {
	loc := zoneForKey(obj.Key, opts.PropertyTimezones)

	var stats ChunkStats
	err := opts.Retry.Do(ctx, obj.Key, func() error {
		rc, err := g.store.Open(ctx, obj.Key)
		if err != nil {
			return fmt.Errorf("open %s: %w", obj.Key, err)
		}
		defer rc.Close()

		emit := func(obs []models.Observation) error {
			br, err := g.sink.WriteBatch(ctx, obs)
			if err != nil {
				return fmt.Errorf("write batch: %w", err)
			}
			res.RowsWritten += br.Written
			res.RowsDuplicate += br.Duplicates
			for t, n := range br.ByType {
				res.RowsByType[t] += n
				metrics.IngestRowsWritten.WithLabelValues(string(t)).Add(float64(n))
			}
			for park, n := range br.ByPark {
				res.RowsByPark[park] += n
			}
			sampler.observe(br.NewRows)
			return nil
		}

		stats = ChunkStats{}
		switch fileType {
		case FileStandby:
			stats, err = ParseStandby(rc, loc, opts.ChunkSize, emit)
		case FileFastpassNew:
			stats, err = ParseFastpassNew(rc, loc, opts.ChunkSize, emit)
		case FileFastpassOld:
			stats, err = ParseFastpassLegacy(rc, loc, opts.ChunkSize, emit)
		default:
			return fmt.Errorf("no parser for %s", fileType)
		}
		return err
	})
	return stats, err
}

// saveState persists the processed catalog and failure tally after each
// file, so the catalog never runs ahead of committed rows.
func (g *Ingestor) saveState() error {
	if err := g.catalog.Save(); err != nil {
		return fmt.Errorf("save processed catalog: %w", err)
	}
	if err := g.tally.Save(); err != nil {
		return fmt.Errorf("save failure tally: %w", err)
	}
	return nil
}

// zoneForKey resolves the park timezone from the property segment of the
// key: export/wait_times/{prop}/file.csv.
func zoneForKey(key string, propertyZones map[string]string) *time.Location {
	prop := propertyFromKey(key)
	if name, ok := propertyZones[prop]; ok {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Eastern ships with every zoneinfo database.
		panic(err)
	}
	return loc
}

// propertyFromKey extracts the property code following the
// wait_times/fastpass_times path marker.
func propertyFromKey(key string) string {
	parts := splitPath(key)
	for i, part := range parts {
		if (part == "wait_times" || part == "fastpass_times") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func splitPath(key string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(key); i++ {
		if i == len(key) || key[i] == '/' {
			if i > start {
				parts = append(parts, key[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
