// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package modeling

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/metrics"
	"github.com/tomtom215/parkwaits/internal/models"
	"github.com/tomtom215/parkwaits/internal/state"
)

// parkPriorityTier orders parks for batch training: flagship gate parks
// first, then secondary gates, then the non-Disney parks, then everything
// else. Within a tier, entities with more target observations train first.
var parkPriorityTier = map[string]int{
	"mk": 0, "dl": 0, "tdl": 0,
	"ep": 1, "hs": 1, "ak": 1, "ca": 1, "tds": 1,
	"ia": 2, "uf": 2, "eu": 2, "uh": 2,
}

// BatchOptions configures one training batch.
type BatchOptions struct {
	MinAge          time.Duration
	MinObservations int
	Workers         int // 0 = auto-size
	StopOnError     bool
	EntityTimeout   time.Duration
}

// BatchResult tallies a batch run.
type BatchResult struct {
	Done       int
	MeanModels int
	Failed     int
	TimedOut   int
}

// Failures returns the count of non-successful entities.
func (r BatchResult) Failures() int { return r.Failed + r.TimedOut }

// TrainBatch reads the work list from the entity index, sizes a worker
// pool, and trains each entity in parallel under a hard per-entity timeout.
// Individual failures are recorded and do not abort the batch.
func TrainBatch(ctx context.Context, deps *Deps, status *state.StatusRecorder, opts BatchOptions) (BatchResult, error) {
	var res BatchResult

	work, err := deps.Index.ListForModeling(opts.MinAge, int64(opts.MinObservations), func(code string) models.WaitTimeType {
		return deps.TargetOf(code)
	})
	if err != nil {
		return res, fmt.Errorf("list entities for modeling: %w", err)
	}
	if len(work) == 0 {
		logging.Info().Msg("No entities need modeling")
		return res, nil
	}

	sortByPriority(work, deps)

	workers := opts.Workers
	if workers <= 0 {
		workers = autoWorkers(deps.Cfg.WorkersCap, deps.Cfg.PerWorkerRAMBytes)
	}
	if workers > len(work) {
		workers = len(work)
	}

	var mu sync.Mutex
	if status != nil {
		entities := make([]state.EntityStatus, len(work))
		for i, rec := range work {
			entities[i] = state.EntityStatus{
				Code:   rec.EntityCode,
				Name:   displayName(deps, rec.EntityCode),
				Status: "pending",
			}
		}
		if err := status.SetEntities(entities, workers); err != nil {
			return res, err
		}
	}
	metrics.TrainingQueueDepth.Set(float64(len(work)))

	logging.Info().
		Int("entities", len(work)).
		Int("workers", workers).
		Dur("entity_timeout", opts.EntityTimeout).
		Msg("Training batch starting")

	setStatus := func(code, st string) {
		mu.Lock()
		defer mu.Unlock()
		if status != nil {
			if err := status.SetEntityStatus(code, st); err != nil {
				logging.Warn().Err(err).Str("entity", code).Msg("Could not update pipeline status")
			}
		}
	}

	// A plain group: individual failures never cancel siblings.
	var g errgroup.Group
	g.SetLimit(workers)

	var resMu sync.Mutex
	for _, rec := range work {
		rec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			setStatus(rec.EntityCode, "running")

			entityCtx, cancel := context.WithTimeout(ctx, opts.EntityTimeout)
			outcome, err := TrainEntity(entityCtx, deps, rec.EntityCode, 0)
			cancel()

			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				outcome = OutcomeTimeout
			}

			resMu.Lock()
			switch outcome {
			case OutcomeDone:
				res.Done++
				setStatus(rec.EntityCode, "done")
			case OutcomeMeanModel:
				res.Done++
				res.MeanModels++
				setStatus(rec.EntityCode, "done")
			case OutcomeTimeout:
				res.TimedOut++
				setStatus(rec.EntityCode, "timeout")
				logging.Error().Str("entity", rec.EntityCode).Msg("Entity training timed out")
			default:
				res.Failed++
				setStatus(rec.EntityCode, "failed")
				logging.Error().Err(err).Str("entity", rec.EntityCode).Msg("Entity training failed")
			}
			remaining := len(work) - res.Done - res.Failed - res.TimedOut
			resMu.Unlock()
			metrics.TrainingQueueDepth.Set(float64(remaining))
			metrics.TrainingOutcomes.WithLabelValues(string(outcome)).Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}

	logging.Info().
		Int("done", res.Done).
		Int("mean_models", res.MeanModels).
		Int("failed", res.Failed).
		Int("timed_out", res.TimedOut).
		Msg("Training batch complete")

	if opts.StopOnError && res.Failures() > 0 {
		return res, fmt.Errorf("%d entities failed", res.Failures())
	}
	return res, nil
}

// sortByPriority orders the work list by park tier, then target observation
// count descending.
func sortByPriority(work []state.EntityRecord, deps *Deps) {
	tierOf := func(rec state.EntityRecord) int {
		if t, ok := parkPriorityTier[models.ParkFromEntity(rec.EntityCode)]; ok {
			return t
		}
		return 3
	}
	sort.SliceStable(work, func(i, j int) bool {
		ti, tj := tierOf(work[i]), tierOf(work[j])
		if ti != tj {
			return ti < tj
		}
		ci := work[i].CountOf(deps.TargetOf(work[i].EntityCode))
		cj := work[j].CountOf(deps.TargetOf(work[j].EntityCode))
		return ci > cj
	})
}

func displayName(deps *Deps, entityCode string) string {
	if deps.Directory != nil {
		return deps.Directory.DisplayName(entityCode)
	}
	return entityCode
}

// autoWorkers sizes the pool: min(cpu_count, 0.8*free_ram/per_worker_ram,
// workersCap).
func autoWorkers(workersCap int, perWorkerRAM int64) int {
	workers := runtime.NumCPU()
	if free := availableRAMBytes(); free > 0 && perWorkerRAM > 0 {
		byRAM := int(float64(free) * 0.8 / float64(perWorkerRAM))
		if byRAM < workers {
			workers = byRAM
		}
	}
	if workersCap > 0 && workers > workersCap {
		workers = workersCap
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// availableRAMBytes reads MemAvailable from /proc/meminfo; 0 when
// unavailable.
func availableRAMBytes() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
