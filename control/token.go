// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package control implements the cooperative cancellation/pause token
// shared by the backup and restore drivers (§4.F, §4.G, §4.H): a
// signal a long-running operation polls at safe points rather than
// being preempted mid-file or mid-pack.
package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Token is a cooperative cancel/pause signal. The zero value is ready
// to use (unpaused, not cancelled).
type Token struct {
	cancelled atomic.Bool
	paused    atomic.Bool
}

// New returns a fresh, unpaused, uncancelled Token.
func New() *Token { return &Token{} }

// Cancel requests cancellation. Safe to call from any goroutine, any
// number of times.
func (t *Token) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Pause requests that the driver stop making progress until Resume —
// "outside the window in-progress work must pause between packs" (§4.H).
func (t *Token) Pause() { t.paused.Store(true) }

// Resume clears a prior Pause.
func (t *Token) Resume() { t.paused.Store(false) }

// Paused reports whether a Pause is currently in effect.
func (t *Token) Paused() bool { return t.paused.Load() }

// CheckPoint is called at a safe point (end of a file, end of a pack,
// end of an upload). It returns a Cancelled-kind error if Cancel was
// called, and otherwise blocks while Paused, waking periodically to
// recheck, until either Resume or Cancel.
func (t *Token) CheckPoint(ctx context.Context) error {
	for {
		if t.Cancelled() {
			return zerr.New(zerr.Cancelled, "", "operation cancelled")
		}
		if !t.Paused() {
			return nil
		}
		select {
		case <-ctx.Done():
			return zerr.Wrap(zerr.Cancelled, "", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}
