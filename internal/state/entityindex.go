// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package state

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/parkwaits/internal/models"
)

const (
	entityKeyPrefix      = "entity:"
	indexSchemaKey       = "index_schema_version"
	indexSchemaVersion   = 2
	indexSchemaVersionV1 = 1
)

// ErrEntityNotFound is returned for lookups of entities the index has never
// seen.
var ErrEntityNotFound = errors.New("entity not found in index")

// EntityRecord is the per-entity metadata row that drives selective modeling.
// Counts are incremented as batches commit; rebuilding from facts reproduces
// them exactly.
type EntityRecord struct {
	EntityCode       string     `json:"entity_code"`
	LatestParkDate   string     `json:"latest_park_date"`
	LatestObservedAt time.Time  `json:"latest_observed_at"`
	RowCount         int64      `json:"row_count"`
	ActualCount      int64      `json:"actual_count"`
	PostedCount      int64      `json:"posted_count"`
	PriorityCount    int64      `json:"priority_count"`
	LastModeledAt    *time.Time `json:"last_modeled_at,omitempty"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CountOf returns the stored count for one wait type.
func (r EntityRecord) CountOf(t models.WaitTimeType) int64 {
	switch t {
	case models.WaitTypeActual:
		return r.ActualCount
	case models.WaitTypePosted:
		return r.PostedCount
	case models.WaitTypePriority:
		return r.PriorityCount
	}
	return 0
}

// BatchDelta is the increment applied to one entity for a committed write
// batch.
type BatchDelta struct {
	MaxParkDate   string
	MaxObservedAt time.Time
	Posted        int64
	Actual        int64
	Priority      int64
}

// EntityIndex is the authoritative, incrementally maintained catalog of
// per-entity observation statistics, stored as one JSON record per entity in
// BadgerDB.
type EntityIndex struct {
	db *badger.DB
}

// NewEntityIndex wraps an open badger database, migrating the persisted
// schema if an older version is found. Count columns added after v1 are
// zero-filled by the JSON decode, so migration only rewrites the version key.
func NewEntityIndex(db *badger.DB) (*EntityIndex, error) {
	idx := &EntityIndex{db: db}
	if err := idx.migrate(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (x *EntityIndex) migrate() error {
	return x.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexSchemaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set([]byte(indexSchemaKey), []byte{indexSchemaVersion})
		}
		if err != nil {
			return fmt.Errorf("read index schema version: %w", err)
		}
		var ver byte
		if err := item.Value(func(val []byte) error {
			if len(val) > 0 {
				ver = val[0]
			}
			return nil
		}); err != nil {
			return err
		}
		if ver == indexSchemaVersion {
			return nil
		}
		if ver > indexSchemaVersion {
			return fmt.Errorf("entity index schema version %d is newer than supported %d", ver, indexSchemaVersion)
		}
		return txn.Set([]byte(indexSchemaKey), []byte{indexSchemaVersion})
	})
}

func entityKey(code string) []byte { return []byte(entityKeyPrefix + code) }

// RecordBatch applies an upsert-increment for one entity. New entities are
// inserted with FirstSeenAt = now; existing records take the max of the
// park-date/observed-at watermarks and accumulate the counts.
func (x *EntityIndex) RecordBatch(entityCode string, delta BatchDelta) error {
	now := time.Now().UTC()
	return x.db.Update(func(txn *badger.Txn) error {
		var rec EntityRecord
		item, err := txn.Get(entityKey(entityCode))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			rec = EntityRecord{
				EntityCode:       entityCode,
				LatestParkDate:   delta.MaxParkDate,
				LatestObservedAt: delta.MaxObservedAt,
				FirstSeenAt:      now,
			}
		case err != nil:
			return fmt.Errorf("get entity %s: %w", entityCode, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode entity %s: %w", entityCode, err)
			}
			if delta.MaxParkDate > rec.LatestParkDate {
				rec.LatestParkDate = delta.MaxParkDate
			}
			if delta.MaxObservedAt.After(rec.LatestObservedAt) {
				rec.LatestObservedAt = delta.MaxObservedAt
			}
		}
		rec.PostedCount += delta.Posted
		rec.ActualCount += delta.Actual
		rec.PriorityCount += delta.Priority
		rec.RowCount += delta.Posted + delta.Actual + delta.Priority
		rec.UpdatedAt = now

		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode entity %s: %w", entityCode, err)
		}
		return txn.Set(entityKey(entityCode), data)
	})
}

// Get returns the record for one entity.
func (x *EntityIndex) Get(entityCode string) (EntityRecord, error) {
	var rec EntityRecord
	err := x.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(entityCode))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntityNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return EntityRecord{}, err
	}
	return rec, nil
}

// All returns every record, sorted by entity code.
func (x *EntityIndex) All() ([]EntityRecord, error) {
	var recs []EntityRecord
	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(entityKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec EntityRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan entity index: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].EntityCode < recs[j].EntityCode })
	return recs, nil
}

// ListForModeling returns the modeling work list: entities never modeled or
// with observations newer than their last modeling run, whose latest
// observation is at least minAge old, and which have at least minTargetObs
// observations of their modeling target. targetOf resolves the target wait
// type per entity (PRIORITY for priority-queue entities, ACTUAL otherwise).
// Results are ordered by latest observation, newest first.
func (x *EntityIndex) ListForModeling(minAge time.Duration, minTargetObs int64, targetOf func(entityCode string) models.WaitTimeType) ([]EntityRecord, error) {
	all, err := x.All()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-minAge)
	var out []EntityRecord
	for _, rec := range all {
		if rec.LastModeledAt != nil && !rec.LatestObservedAt.After(*rec.LastModeledAt) {
			continue
		}
		if minAge > 0 && !rec.LatestObservedAt.Before(cutoff) {
			continue
		}
		if rec.CountOf(targetOf(rec.EntityCode)) < minTargetObs {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LatestObservedAt.After(out[j].LatestObservedAt)
	})
	return out, nil
}

// MarkModeled stamps last_modeled_at for one entity.
func (x *EntityIndex) MarkModeled(entityCode string, at time.Time) error {
	at = at.UTC()
	return x.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(entityCode))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntityNotFound
		}
		if err != nil {
			return err
		}
		var rec EntityRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		rec.LastModeledAt = &at
		rec.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return txn.Set(entityKey(entityCode), data)
	})
}

// ReplaceAll swaps the whole index for the given records, preserving the
// schema version. Used by the rebuild operation after a full fact scan.
func (x *EntityIndex) ReplaceAll(recs []EntityRecord) error {
	if err := x.db.DropPrefix([]byte(entityKeyPrefix)); err != nil {
		return fmt.Errorf("drop entity records: %w", err)
	}
	wb := x.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rec := range recs {
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode entity %s: %w", rec.EntityCode, err)
		}
		if err := wb.Set(entityKey(rec.EntityCode), data); err != nil {
			return fmt.Errorf("write entity %s: %w", rec.EntityCode, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush index rebuild: %w", err)
	}
	return x.migrate()
}
