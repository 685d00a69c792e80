// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package state

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// StepState is the lifecycle state of one pipeline step.
type StepState string

const (
	StepPending StepState = "pending"
	StepRunning StepState = "running"
	StepDone    StepState = "done"
	StepFailed  StepState = "failed"
)

// StepOrder is the fixed sequence of pipeline steps as shown to the
// monitoring view.
var StepOrder = []string{
	"merge_staging",
	"ingest",
	"dimensions",
	"aggregates",
	"training",
	"forecast",
	"wti",
}

// StepStatus records one step's state and its first error, if any.
type StepStatus struct {
	State    StepState  `json:"state"`
	Error    string     `json:"error,omitempty"`
	DoneAt   *time.Time `json:"done_at,omitempty"`
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// EntityStatus is the per-entity training progress entry.
type EntityStatus struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Status string `json:"status"` // pending|running|done|failed|timeout
}

// Status is the shared pipeline status record. Writers replace the whole file
// atomically and bump Sequence; readers may observe an older generation but
// never a torn one.
type Status struct {
	RunID         string                `json:"run_id"`
	Sequence      int64                 `json:"sequence"`
	StartedAt     time.Time             `json:"started_at"`
	CurrentStep   string                `json:"current_step"`
	Steps         map[string]StepStatus `json:"steps"`
	CurrentEntity string                `json:"current_entity,omitempty"`
	Entities      []EntityStatus        `json:"entities,omitempty"`
	EntitiesDone  int                   `json:"entities_done"`
	EntitiesTotal int                   `json:"entities_total"`
	Workers       int                   `json:"workers,omitempty"`
	LastUpdated   time.Time             `json:"last_updated"`
}

// StatusRecorder owns the pipeline status file for the duration of a run.
// Only the pipeline driver and its training workers write it; writes are
// serialized by the caller (workers report through the driver).
type StatusRecorder struct {
	path   string
	status Status
}

// NewStatusRecorder starts a fresh status record for a run: all steps
// pending, a new run ID.
func NewStatusRecorder(path string) *StatusRecorder {
	steps := make(map[string]StepStatus, len(StepOrder))
	for _, s := range StepOrder {
		steps[s] = StepStatus{State: StepPending}
	}
	return &StatusRecorder{
		path: path,
		status: Status{
			RunID:       uuid.NewString(),
			StartedAt:   time.Now().UTC(),
			CurrentStep: StepOrder[0],
			Steps:       steps,
		},
	}
}

// StepRunning marks a step as running and makes it current.
func (r *StatusRecorder) StepRunning(name string) error {
	st := r.status.Steps[name]
	st.State = StepRunning
	r.status.Steps[name] = st
	r.status.CurrentStep = name
	return r.flush()
}

// StepDone marks a step as done.
func (r *StatusRecorder) StepDone(name string) error {
	now := time.Now().UTC()
	st := r.status.Steps[name]
	st.State = StepDone
	st.DoneAt = &now
	r.status.Steps[name] = st
	return r.flush()
}

// StepFailed marks a step as failed, keeping only the first error text.
func (r *StatusRecorder) StepFailed(name string, cause error) error {
	now := time.Now().UTC()
	st := r.status.Steps[name]
	st.State = StepFailed
	st.FailedAt = &now
	if st.Error == "" && cause != nil {
		st.Error = cause.Error()
	}
	r.status.Steps[name] = st
	r.status.CurrentStep = name
	return r.flush()
}

// SetEntities installs the training work list.
func (r *StatusRecorder) SetEntities(entities []EntityStatus, workers int) error {
	r.status.Entities = entities
	r.status.EntitiesTotal = len(entities)
	r.status.EntitiesDone = 0
	r.status.Workers = workers
	return r.flush()
}

// SetEntityStatus updates one entity's training state.
func (r *StatusRecorder) SetEntityStatus(code, status string) error {
	for i := range r.status.Entities {
		if r.status.Entities[i].Code == code {
			r.status.Entities[i].Status = status
			break
		}
	}
	switch status {
	case "running":
		r.status.CurrentEntity = code
	case "done", "failed", "timeout":
		r.status.EntitiesDone++
		if r.status.CurrentEntity == code {
			r.status.CurrentEntity = ""
		}
	}
	return r.flush()
}

// Snapshot returns a copy of the current status.
func (r *StatusRecorder) Snapshot() Status {
	s := r.status
	s.Entities = append([]EntityStatus(nil), r.status.Entities...)
	return s
}

func (r *StatusRecorder) flush() error {
	r.status.Sequence++
	r.status.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(r.status, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pipeline status: %w", err)
	}
	return WriteFileAtomic(r.path, data, 0o640)
}

// ReadStatus loads the status record read-only. A missing file returns
// (nil, nil); consumers render that as "unknown".
func ReadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pipeline status: %w", err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode pipeline status: %w", err)
	}
	return &s, nil
}
