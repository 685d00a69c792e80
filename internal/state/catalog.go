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
)

// ProcessedCatalog tracks which source object keys have been fully committed
// to the canonical store, and at which source marker (last-modified). A key is
// considered processed iff its catalog marker equals the current source
// marker; an older marker means the object changed upstream and must be
// re-ingested.
type ProcessedCatalog struct {
	path    string
	entries map[string]time.Time
}

type processedCatalogFile struct {
	ProcessedFiles map[string]time.Time `json:"processed_files"`
	LastUpdated    time.Time            `json:"last_updated"`
	TotalFiles     int                  `json:"total_files"`
}

// LoadProcessedCatalog reads the catalog at path, returning an empty catalog
// when the file does not exist.
func LoadProcessedCatalog(path string) (*ProcessedCatalog, error) {
	c := &ProcessedCatalog{path: path, entries: make(map[string]time.Time)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read processed catalog: %w", err)
	}
	var f processedCatalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode processed catalog: %w", err)
	}
	if f.ProcessedFiles != nil {
		c.entries = f.ProcessedFiles
	}
	return c, nil
}

// IsProcessed reports whether key was committed at exactly marker.
func (c *ProcessedCatalog) IsProcessed(key string, marker time.Time) bool {
	m, ok := c.entries[key]
	return ok && m.Equal(marker)
}

// MarkProcessed records key at marker. Call only after the key's rows are
// durably committed (dedup set and entity index included).
func (c *ProcessedCatalog) MarkProcessed(key string, marker time.Time) {
	c.entries[key] = marker
}

// Forget drops key from the catalog.
func (c *ProcessedCatalog) Forget(key string) { delete(c.entries, key) }

// Len returns the number of catalog entries.
func (c *ProcessedCatalog) Len() int { return len(c.entries) }

// Save persists the catalog atomically.
func (c *ProcessedCatalog) Save() error {
	data, err := json.MarshalIndent(processedCatalogFile{
		ProcessedFiles: c.entries,
		LastUpdated:    time.Now().UTC(),
		TotalFiles:     len(c.entries),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode processed catalog: %w", err)
	}
	return WriteFileAtomic(c.path, data, 0o640)
}

// FailureRecord tallies repeated processing failures for one source key.
type FailureRecord struct {
	Failures       int       `json:"failures"`
	LastAttempt    time.Time `json:"last_attempt"`
	LastError      string    `json:"last_error"`
	SourceModified time.Time `json:"source_last_modified"`
}

// FailureTally tracks chronically failing source objects so that old,
// repeatedly broken inputs can be quarantined instead of retried forever.
type FailureTally struct {
	path    string
	entries map[string]FailureRecord

	// Quarantine policy.
	FailThreshold int
	OldAge        time.Duration
}

type failureTallyFile struct {
	FailedFiles map[string]FailureRecord `json:"failed_files"`
	LastUpdated time.Time                `json:"last_updated"`
}

// DefaultFailThreshold and DefaultOldDays define the quarantine policy: skip
// a key once it has failed this many times and its source object is older
// than this many days.
const (
	DefaultFailThreshold = 3
	DefaultOldDays       = 600
)

// LoadFailureTally reads the tally at path with the given policy. Zero policy
// values fall back to the defaults.
func LoadFailureTally(path string, failThreshold, oldDays int) (*FailureTally, error) {
	if failThreshold <= 0 {
		failThreshold = DefaultFailThreshold
	}
	if oldDays <= 0 {
		oldDays = DefaultOldDays
	}
	t := &FailureTally{
		path:          path,
		entries:       make(map[string]FailureRecord),
		FailThreshold: failThreshold,
		OldAge:        time.Duration(oldDays) * 24 * time.Hour,
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failure tally: %w", err)
	}
	var f failureTallyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode failure tally: %w", err)
	}
	if f.FailedFiles != nil {
		t.entries = f.FailedFiles
	}
	return t, nil
}

// RecordFailure increments the tally for key with the error text and the
// source object's last-modified marker.
func (t *FailureTally) RecordFailure(key string, sourceModified time.Time, cause error) {
	rec := t.entries[key]
	rec.Failures++
	rec.LastAttempt = time.Now().UTC()
	if cause != nil {
		rec.LastError = cause.Error()
	}
	rec.SourceModified = sourceModified
	t.entries[key] = rec
}

// ClearFailure removes the tally entry for key after a successful run.
func (t *FailureTally) ClearFailure(key string) { delete(t.entries, key) }

// Quarantined reports whether key should be skipped on discovery: at least
// FailThreshold failures and a source object older than OldAge.
func (t *FailureTally) Quarantined(key string, sourceModified time.Time) bool {
	rec, ok := t.entries[key]
	if !ok || rec.Failures < t.FailThreshold {
		return false
	}
	return time.Since(sourceModified.UTC()) >= t.OldAge
}

// Failures returns the current failure count for key.
func (t *FailureTally) Failures(key string) int { return t.entries[key].Failures }

// Len returns the number of tallied keys.
func (t *FailureTally) Len() int { return len(t.entries) }

// Save persists the tally atomically.
func (t *FailureTally) Save() error {
	data, err := json.MarshalIndent(failureTallyFile{
		FailedFiles: t.entries,
		LastUpdated: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure tally: %w", err)
	}
	return WriteFileAtomic(t.path, data, 0o640)
}
