// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package config

import (
	"time"
)

// Config holds all pipeline configuration loaded from defaults, an optional
// YAML config file, and environment variables (prefix PARKWAITS_).
//
// Loading order (Koanf v2), highest priority last:
//  1. Built-in defaults
//  2. Config file (config.yaml)
//  3. Environment variables
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	// OutputBase is the shared filesystem root every component writes under.
	OutputBase string `koanf:"output_base" validate:"required"`

	Ingest   IngestConfig   `koanf:"ingest"`
	Live     LiveConfig     `koanf:"live"`
	Modeling ModelingConfig `koanf:"modeling"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Logging  LoggingConfig  `koanf:"logging"`

	// ParkTimezones maps park code -> IANA zone name. Historical ingest does
	// not use it; it resolves zones per property through
	// Ingest.PropertyTimezones.
	ParkTimezones map[string]string `koanf:"park_timezones" validate:"required,min=1"`
}

// IngestConfig controls historical source ingest.
type IngestConfig struct {
	// SourceRoot is the object store root (bucket mount or fixture dir).
	SourceRoot string `koanf:"source_root" validate:"required"`

	// Properties are the property scopes to include (wdw, dlr, uor, ush, tdr).
	Properties []string `koanf:"properties" validate:"required,min=1"`

	// StandbyPrefixFormat and PriorityPrefixFormat locate source objects per
	// property; %s is the property code.
	StandbyPrefixFormat  string `koanf:"standby_prefix_format"`
	PriorityPrefixFormat string `koanf:"priority_prefix_format"`

	// PropertyTimezones maps property code -> IANA zone name, used to stamp
	// parsed rows. Falls back to Eastern when a property is missing.
	PropertyTimezones map[string]string `koanf:"property_timezones"`

	// ChunkSize is the row batch size for streamed parsing.
	ChunkSize int `koanf:"chunksize" validate:"min=1"`

	// FailThreshold and OldDays define the quarantine policy for
	// chronically failing source files.
	FailThreshold int `koanf:"fail_threshold" validate:"min=1"`
	OldDays       int `koanf:"old_days" validate:"min=1"`

	// RetryAttempts and RetryInitialBackoff shape the transient I/O retry
	// policy (exponential, base 2).
	RetryAttempts       int           `koanf:"retry_attempts" validate:"min=1"`
	RetryInitialBackoff time.Duration `koanf:"retry_initial_backoff"`

	// SampleK is the reservoir sample size kept per run.
	SampleK int `koanf:"sample_k" validate:"min=0"`
}

// LiveConfig controls the queue-times live poller.
type LiveConfig struct {
	// BaseURL is the live feed root; parks are fetched from
	// {base}/parks/{id}/queue_times.json.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// PollInterval is the sleep between poll cycles.
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=1s"`

	// RequestTimeout bounds a single feed request.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// ParkMap maps the provider's numeric park ID (as a string key, for
	// clean config-layer merging) to our park code.
	ParkMap map[string]string `koanf:"park_map" validate:"required,min=1"`

	// EntityMappingPath is the CSV mapping provider ride IDs to entity
	// codes: entity_code, park_code, queue_times_id.
	EntityMappingPath string `koanf:"entity_mapping_path"`

	// WindowBeforeOpen/AfterClose pad the park operating window inside
	// which the poller fetches.
	WindowBeforeOpen time.Duration `koanf:"window_before_open"`
	WindowAfterClose time.Duration `koanf:"window_after_close"`

	// StaleAfter is the upstream last-updated age past which a warning is
	// logged.
	StaleAfter time.Duration `koanf:"stale_after"`

	// RatePerSecond caps feed requests.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// ModelingConfig controls the per-entity modeling workflow.
type ModelingConfig struct {
	// MinObservations is the target-type observation count below which only
	// a mean model is recorded.
	MinObservations int `koanf:"min_observations" validate:"min=1"`

	// MinAgeHours excludes entities whose newest observation is fresher
	// than this, so runs do not model half-ingested days.
	MinAgeHours float64 `koanf:"min_age_hours" validate:"min=0"`

	// WorkersCap bounds the training worker pool; the effective count also
	// considers CPU and free RAM.
	WorkersCap int `koanf:"workers_cap" validate:"min=1"`

	// PerWorkerRAMBytes is the assumed RAM budget per worker when sizing
	// the pool.
	PerWorkerRAMBytes int64 `koanf:"per_worker_ram_bytes" validate:"min=1"`

	// EntityTimeout is the hard per-entity training ceiling.
	EntityTimeout time.Duration `koanf:"entity_timeout" validate:"min=1s"`

	// TrainRatio and ValRatio split chronologically by park_date; test gets
	// the remainder.
	TrainRatio float64 `koanf:"train_ratio" validate:"gt=0,lt=1"`
	ValRatio   float64 `koanf:"val_ratio" validate:"gt=0,lt=1"`

	Hyperparams Hyperparams `koanf:"hyperparams"`
}

// Hyperparams are the boosted-tree settings handed to the RegressorTrainer.
// Fixed initial values per the modeling design; tunable via config.
type Hyperparams struct {
	Objective      string  `koanf:"objective"`
	MaxDepth       int     `koanf:"max_depth" validate:"min=1"`
	LearningRate   float64 `koanf:"learning_rate" validate:"gt=0"`
	Rounds         int     `koanf:"rounds" validate:"min=1"`
	Subsample      float64 `koanf:"subsample" validate:"gt=0,lte=1"`
	MinChildWeight int     `koanf:"min_child_weight" validate:"min=0"`
	EarlyStopping  bool    `koanf:"early_stopping"`
}

// MonitorConfig controls the read-only status/metrics HTTP view.
type MonitorConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"min=1,max=65535"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}
