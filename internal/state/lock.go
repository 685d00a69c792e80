// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package state

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/parkwaits/internal/logging"
)

// ErrLockHeld is returned when another live process already holds the lock.
// Callers translate it to exit code 2.
var ErrLockHeld = errors.New("lock held by another process")

// StaleLockAge is the age past which a lock file is treated as abandoned and
// taken over. A healthy pipeline run finishes well inside a day.
const StaleLockAge = 24 * time.Hour

// FileLock is a cross-process exclusive lock backed by an O_EXCL-created file
// containing the owner's PID, acquire time, and owning command.
type FileLock struct {
	path  string
	owner string
	held  bool
}

// NewFileLock returns an unacquired lock at path. owner names the command for
// diagnostics inside the lock file.
func NewFileLock(path, owner string) *FileLock {
	return &FileLock{path: path, owner: owner}
}

// Acquire takes the lock, removing it first if it is stale. ErrLockHeld is
// returned when a fresh lock file exists.
func (l *FileLock) Acquire() error {
	if info, err := os.Stat(l.path); err == nil {
		age := time.Since(info.ModTime())
		if age > StaleLockAge {
			logging.Warn().
				Str("lock", l.path).
				Dur("age", age).
				Msg("Removing stale lock file")
			if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove stale lock %s: %w", l.path, err)
			}
		} else {
			return fmt.Errorf("%w: %s (age %s)", ErrLockHeld, l.path, age.Round(time.Second))
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			// Lost the race to another contender.
			return fmt.Errorf("%w: %s", ErrLockHeld, l.path)
		}
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}
	defer f.Close()

	body := fmt.Sprintf("PID: %d\nStart: %s\nScript: %s\n",
		os.Getpid(), time.Now().Format(time.RFC3339), l.owner)
	if _, err := f.WriteString(body); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("write lock %s: %w", l.path, err)
	}
	l.held = true
	return nil
}

// Release removes the lock file. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() {
	if !l.held {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("lock", l.path).Msg("Error releasing lock")
	}
	l.held = false
}

// Held reports whether this process currently holds the lock.
func (l *FileLock) Held() bool { return l.held }
