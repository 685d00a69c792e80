// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package metrics registers the Prometheus collectors exposed by the
// monitoring view. Collectors are registered on the default registry at
// package init, matching how every component logs through the package-level
// logger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestRowsWritten counts canonical rows appended, by wait type.
	IngestRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "ingest",
		Name:      "rows_written_total",
		Help:      "Canonical rows appended to the fact store, by wait time type.",
	}, []string{"wait_time_type"})

	// IngestFilesProcessed counts source files fully committed.
	IngestFilesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "ingest",
		Name:      "files_processed_total",
		Help:      "Source files fully processed and recorded in the catalog.",
	})

	// IngestFilesFailed counts source files that exhausted retries.
	IngestFilesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "ingest",
		Name:      "files_failed_total",
		Help:      "Source files that failed processing and were tallied.",
	})

	// DedupHits counts rows dropped as duplicates by the canonical writer.
	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "writer",
		Name:      "dedup_hits_total",
		Help:      "Rows dropped because their 4-tuple was already present.",
	})

	// PollCycles counts live poller cycles, by outcome.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Live poll cycles, by outcome (fetched, idle, error).",
	}, []string{"outcome"})

	// PollRowsStaged counts rows written to the staging area.
	PollRowsStaged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "poller",
		Name:      "rows_staged_total",
		Help:      "Live observations appended to staging files.",
	})

	// PollUnmappedRides counts live rides with no entity mapping.
	PollUnmappedRides = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "poller",
		Name:      "unmapped_rides_total",
		Help:      "Live feed rides dropped for lack of an entity mapping.",
	})

	// TrainingOutcomes counts per-entity training completions, by status.
	TrainingOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "training",
		Name:      "entities_total",
		Help:      "Per-entity training outcomes (done, failed, timeout, mean_model).",
	}, []string{"status"})

	// TrainingQueueDepth gauges the remaining modeling work list.
	TrainingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parkwaits",
		Subsystem: "training",
		Name:      "queue_depth",
		Help:      "Entities remaining in the current training batch.",
	})

	// MergeRowsMerged counts staged rows merged into the fact store.
	MergeRowsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parkwaits",
		Subsystem: "merge",
		Name:      "rows_merged_total",
		Help:      "Staged live rows merged into the canonical store.",
	})
)
