// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/parkwaits/internal/validation"
)

// DefaultConfigPaths lists where config files are searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/parkwaits/config.yaml",
	"/etc/parkwaits/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "PARKWAITS_CONFIG"

// envPrefix is the environment variable prefix; PARKWAITS_LIVE_POLL_INTERVAL
// maps to live.poll_interval.
const envPrefix = "PARKWAITS_"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		OutputBase: "",
		Ingest: IngestConfig{
			SourceRoot:           "",
			Properties:           []string{"wdw", "dlr", "uor", "ush", "tdr"},
			StandbyPrefixFormat:  "export/wait_times/%s/",
			PriorityPrefixFormat: "export/fastpass_times/%s/",
			PropertyTimezones: map[string]string{
				"wdw": "America/New_York",
				"dlr": "America/Los_Angeles",
				"uor": "America/New_York",
				"ush": "America/Los_Angeles",
				"tdr": "Asia/Tokyo",
			},
			ChunkSize:           250_000,
			FailThreshold:       3,
			OldDays:             600,
			RetryAttempts:       3,
			RetryInitialBackoff: time.Second,
			SampleK:             1000,
		},
		Live: LiveConfig{
			BaseURL:        "https://queue-times.com",
			PollInterval:   300 * time.Second,
			RequestTimeout: 30 * time.Second,
			ParkMap: map[string]string{
				"6": "mk", "5": "ep", "7": "hs", "8": "ak",
				"16": "dl", "17": "ca",
				"64": "ia", "65": "uf", "334": "eu",
				"66":  "uh",
				"274": "tdl", "275": "tds",
			},
			EntityMappingPath: "config/queue_times_entity_mapping.csv",
			WindowBeforeOpen:  90 * time.Minute,
			WindowAfterClose:  90 * time.Minute,
			StaleAfter:        24 * time.Hour,
			RatePerSecond:     2,
		},
		Modeling: ModelingConfig{
			MinObservations:   500,
			MinAgeHours:       0,
			WorkersCap:        16,
			PerWorkerRAMBytes: 2 << 30, // 2GB
			EntityTimeout:     time.Hour,
			TrainRatio:        0.70,
			ValRatio:          0.15,
			Hyperparams: Hyperparams{
				Objective:      "reg:absoluteerror",
				MaxDepth:       6,
				LearningRate:   0.1,
				Rounds:         2000,
				Subsample:      0.5,
				MinChildWeight: 10,
				EarlyStopping:  false,
			},
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    3858,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		ParkTimezones: map[string]string{
			"mk": "America/New_York", "ep": "America/New_York",
			"hs": "America/New_York", "ak": "America/New_York",
			"bb": "America/New_York", "tl": "America/New_York",
			"ia": "America/New_York", "uf": "America/New_York",
			"eu": "America/New_York",
			"dl": "America/Los_Angeles", "ca": "America/Los_Angeles",
			"uh":  "America/Los_Angeles",
			"tdl": "Asia/Tokyo", "tds": "Asia/Tokyo",
		},
	}
}

// Load builds the configuration: defaults, then the first config file found
// (or PARKWAITS_CONFIG), then environment variables. The result is validated;
// a validation failure is a fatal configuration error (exit code 3 at the
// CLI).
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom loads with an explicit config file path; empty means no file.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envToKey maps PARKWAITS_LIVE_POLL_INTERVAL -> live.poll_interval. Single
// underscores become dots only for the first segment; the rest keep their
// underscores so multi-word keys (output_base, min_age_hours) resolve.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	// Top-level section names never contain underscores, so the first
	// underscore separates section from key.
	if i := strings.Index(s, "_"); i > 0 {
		section := s[:i]
		switch section {
		case "ingest", "live", "modeling", "monitor", "logging":
			return section + "." + s[i+1:]
		}
	}
	return s
}

// findConfigFile returns the config file path: the env override if set,
// otherwise the first default path that exists.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks the assembled configuration, including cross-field rules
// the struct tags cannot express.
func Validate(cfg *Config) error {
	if err := validation.ValidateStruct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Modeling.TrainRatio+cfg.Modeling.ValRatio >= 1 {
		return fmt.Errorf("invalid configuration: train_ratio + val_ratio must leave room for a test split")
	}
	for park, zone := range cfg.ParkTimezones {
		if _, err := time.LoadLocation(zone); err != nil {
			return fmt.Errorf("invalid configuration: park %s timezone %q: %w", park, zone, err)
		}
	}
	for prop, zone := range cfg.Ingest.PropertyTimezones {
		if _, err := time.LoadLocation(zone); err != nil {
			return fmt.Errorf("invalid configuration: property %s timezone %q: %w", prop, zone, err)
		}
	}
	return nil
}
