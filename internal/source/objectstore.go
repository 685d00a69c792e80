// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ObjectInfo describes one listed source object. LastModified is the marker
// recorded in the processed catalog on success.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// ObjectStore is the read-only listing and streaming API over the historical
// source. The production store is an object bucket; tests and local runs use
// the filesystem implementation.
type ObjectStore interface {
	// List returns every CSV object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Open streams one object's bytes.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// FSObjectStore serves objects from a directory tree; keys are
// slash-separated paths relative to Root.
type FSObjectStore struct {
	Root string
}

// NewFSObjectStore returns a store rooted at root.
func NewFSObjectStore(root string) *FSObjectStore {
	return &FSObjectStore{Root: root}
}

// List implements ObjectStore.
func (s *FSObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	base := filepath.Join(s.Root, filepath.FromSlash(prefix))
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".csv") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{
			Key:          filepath.ToSlash(rel),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Open implements ObjectStore.
func (s *FSObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.Root, filepath.FromSlash(key)))
}
