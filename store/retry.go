// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Backoff parameters, generalized from the teacher's
// ReconnectingClient.reconnect: start at retryDelay, double on each
// attempt, cap at maxRetryDelay, give up after maxRetries.
const (
	defaultMaxRetries    = 5
	defaultRetryDelay    = 250 * time.Millisecond
	defaultMaxRetryDelay = 20 * time.Second
)

// withRetry runs op, retrying with exponential backoff while
// IsTransient(err) and ctx is not done, up to defaultMaxRetries
// attempts. It is the same "delay := base; for attempt...; delay =
// min(delay*2, max)" shape as the teacher's reconnect loop, applied to
// a single store call instead of a TCP reconnect.
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	delay := defaultRetryDelay
	var lastErr error
	for attempt := 1; attempt <= defaultMaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > defaultMaxRetryDelay {
				delay = defaultMaxRetryDelay
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		logger.Warn("store: transient error, retrying", "op", op, "attempt", attempt, "error", err)
	}
	return zerr.Wrap(zerr.Transient, "", lastErr)
}

// connectionSyscallErrors mirrors the teacher's isConnectionError
// table (reconnect.go), extended to the classes a storage backend's
// HTTP/SFTP transport surfaces.
var connectionSyscallErrors = map[syscall.Errno]bool{
	syscall.ECONNRESET:   true,
	syscall.ECONNREFUSED: true,
	syscall.EPIPE:        true,
	syscall.ECONNABORTED: true,
	syscall.ENETUNREACH:  true,
	syscall.EHOSTUNREACH: true,
	syscall.ENETDOWN:     true,
	syscall.ETIMEDOUT:    true,
}

var transientMessagePatterns = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"use of closed network connection",
	"network is unreachable",
	"no route to host",
	"connection timed out",
	"i/o timeout",
	"throttl",
	"slow down",
	"internal error",
	"service unavailable",
	"timeout",
	"temporarily unavailable",
}

// IsTransient classifies err as retryable (§7 Transient: "network
// timeouts, 5xx responses, throttling").
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if zerr.Is(err, zerr.Transient) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return connectionSyscallErrors[errno]
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Err != nil {
			return IsTransient(opErr.Err)
		}
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessagePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
