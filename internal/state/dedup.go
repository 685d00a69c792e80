// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package state

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/parkwaits/internal/models"
)

// dedupKeyPrefix namespaces dedup entries so the store can coexist with
// housekeeping keys in the same database.
const dedupKeyPrefix = "row:"

// DedupSet is the persistent content-hash set of row 4-tuples. Its
// cardinality grows monotonically; Clear exists only for the full-rebuild
// path. A single writer mutates it at a time, protected by the pipeline (or
// poller) lock.
type DedupSet struct {
	db *badger.DB
}

// NewDedupSet wraps an open badger database.
func NewDedupSet(db *badger.DB) *DedupSet {
	return &DedupSet{db: db}
}

// InsertBatch inserts each observation's 4-tuple and returns a mask: true
// where the row is new, false where it was already present. The whole batch
// commits in one transaction so a crash never leaves a partial chunk marked
// as seen.
func (d *DedupSet) InsertBatch(obs []models.Observation) ([]bool, error) {
	mask := make([]bool, len(obs))
	err := d.db.Update(func(txn *badger.Txn) error {
		for i, o := range obs {
			key := append([]byte(dedupKeyPrefix), o.DedupKey()...)
			_, err := txn.Get(key)
			switch {
			case err == nil:
				mask[i] = false
			case errors.Is(err, badger.ErrKeyNotFound):
				if err := txn.Set(key, nil); err != nil {
					return fmt.Errorf("set dedup key: %w", err)
				}
				mask[i] = true
			default:
				return fmt.Errorf("get dedup key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mask, nil
}

// MaskNew checks the batch against the set without mutating it, returning
// true where a row is new. Duplicates within the batch itself are also
// masked, first occurrence winning. Used by the canonical writer, which
// commits the insertions only after file append and index update succeed.
func (d *DedupSet) MaskNew(obs []models.Observation) ([]bool, error) {
	mask := make([]bool, len(obs))
	inBatch := make(map[string]struct{}, len(obs))
	err := d.db.View(func(txn *badger.Txn) error {
		for i, o := range obs {
			key := append([]byte(dedupKeyPrefix), o.DedupKey()...)
			if _, dup := inBatch[string(key)]; dup {
				continue
			}
			_, err := txn.Get(key)
			switch {
			case err == nil:
				// Already present.
			case errors.Is(err, badger.ErrKeyNotFound):
				mask[i] = true
				inBatch[string(key)] = struct{}{}
			default:
				return fmt.Errorf("get dedup key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mask, nil
}

// Commit durably inserts the given rows' 4-tuples in one transaction.
func (d *DedupSet) Commit(obs []models.Observation) error {
	return d.db.Update(func(txn *badger.Txn) error {
		for _, o := range obs {
			key := append([]byte(dedupKeyPrefix), o.DedupKey()...)
			if err := txn.Set(key, nil); err != nil {
				return fmt.Errorf("set dedup key: %w", err)
			}
		}
		return nil
	})
}

// Contains reports whether the observation's 4-tuple is already present.
func (d *DedupSet) Contains(o models.Observation) (bool, error) {
	found := false
	err := d.db.View(func(txn *badger.Txn) error {
		key := append([]byte(dedupKeyPrefix), o.DedupKey()...)
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("dedup contains: %w", err)
	}
	return found, nil
}

// Len counts the stored 4-tuples. It iterates; use for diagnostics and
// tests, not hot paths.
func (d *DedupSet) Len() (int, error) {
	n := 0
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(dedupKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("dedup len: %w", err)
	}
	return n, nil
}

// Clear drops every dedup entry. Used only by --full-rebuild before
// re-ingesting everything.
func (d *DedupSet) Clear() error {
	return d.db.DropPrefix([]byte(dedupKeyPrefix))
}
