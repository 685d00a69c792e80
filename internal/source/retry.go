// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomtom215/parkwaits/internal/logging"
)

// RetryPolicy is the explicit retry policy value carried by the ingest
// component: exponential backoff with a bounded attempt count.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// DefaultRetryPolicy makes up to three attempts at transient source I/O,
// waiting 1s and then 2s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second}
}

// ErrTransient wraps an error known to be worth retrying (stream reset,
// connection error, read timeout).
var ErrTransient = errors.New("transient source error")

// IsTransient classifies an error as retryable source I/O.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// Do runs op under the policy. Non-transient errors abort immediately;
// transient errors back off exponentially until attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, what string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = p.InitialBackoff << uint(p.MaxAttempts)

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt >= p.MaxAttempts {
			return backoff.Permanent(err)
		}
		logging.Warn().
			Err(err).
			Str("target", what).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Msg("Transient source error, retrying")
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(bo, ctx))
}
