// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
output_base: /tmp/parkwaits
ingest:
  source_root: /tmp/source
`

func TestLoadFromDefaultsAndFile(t *testing.T) {
	cfg, err := LoadFrom(writeConfigFile(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.OutputBase != "/tmp/parkwaits" {
		t.Errorf("output_base = %s", cfg.OutputBase)
	}
	// Defaults survive when the file only sets a subset.
	if cfg.Ingest.ChunkSize != 250_000 {
		t.Errorf("chunksize default = %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.FailThreshold != 3 || cfg.Ingest.OldDays != 600 {
		t.Errorf("quarantine defaults = %d/%d", cfg.Ingest.FailThreshold, cfg.Ingest.OldDays)
	}
	if cfg.Live.PollInterval != 300*time.Second {
		t.Errorf("poll interval default = %s", cfg.Live.PollInterval)
	}
	if cfg.Modeling.MinObservations != 500 {
		t.Errorf("min observations default = %d", cfg.Modeling.MinObservations)
	}
	if cfg.Modeling.Hyperparams.Rounds != 2000 || cfg.Modeling.Hyperparams.Subsample != 0.5 {
		t.Errorf("hyperparam defaults = %+v", cfg.Modeling.Hyperparams)
	}
	if cfg.ParkTimezones["tdl"] != "Asia/Tokyo" {
		t.Errorf("park timezone default = %s", cfg.ParkTimezones["tdl"])
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PARKWAITS_MODELING_MIN_OBSERVATIONS", "250")
	t.Setenv("PARKWAITS_LIVE_POLL_INTERVAL", "60s")

	cfg, err := LoadFrom(writeConfigFile(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Modeling.MinObservations != 250 {
		t.Errorf("env override min_observations = %d", cfg.Modeling.MinObservations)
	}
	if cfg.Live.PollInterval != time.Minute {
		t.Errorf("env override poll_interval = %s", cfg.Live.PollInterval)
	}
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	if _, err := LoadFrom(writeConfigFile(t, "logging:\n  level: info\n")); err == nil {
		t.Fatal("expected error for missing output_base/source_root")
	}
}

func TestValidateRejectsBadRatios(t *testing.T) {
	cfg, err := LoadFrom(writeConfigFile(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Modeling.TrainRatio = 0.9
	cfg.Modeling.ValRatio = 0.2
	if err := Validate(cfg); err == nil {
		t.Error("expected error for ratios >= 1")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg, err := LoadFrom(writeConfigFile(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.ParkTimezones["mk"] = "Mars/Olympus_Mons"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestEnvToKey(t *testing.T) {
	cases := map[string]string{
		"PARKWAITS_OUTPUT_BASE":                  "output_base",
		"PARKWAITS_INGEST_CHUNKSIZE":             "ingest.chunksize",
		"PARKWAITS_MODELING_MIN_AGE_HOURS":       "modeling.min_age_hours",
		"PARKWAITS_LIVE_POLL_INTERVAL":           "live.poll_interval",
		"PARKWAITS_LOGGING_LEVEL":                "logging.level",
		"PARKWAITS_MONITOR_PORT":                 "monitor.port",
		"PARKWAITS_INGEST_RETRY_INITIAL_BACKOFF": "ingest.retry_initial_backoff",
	}
	for in, want := range cases {
		if got := envToKey(in); got != want {
			t.Errorf("envToKey(%s) = %s, want %s", in, got, want)
		}
	}
}
