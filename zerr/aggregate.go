// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package zerr

import "fmt"

// Aggregate collects failures observed over the course of a Snapshot
// or a restore Request: the first cause is reported verbatim, and
// subsequent failures only add to a count (§7: "the first cause
// reported verbatim and a count of secondary failures").
type Aggregate struct {
	first error
	count int
}

// Add records a failure. Nil errors are ignored.
func (a *Aggregate) Add(err error) {
	if err == nil {
		return
	}
	if a.first == nil {
		a.first = err
	}
	a.count++
}

// Empty reports whether no failures were recorded.
func (a *Aggregate) Empty() bool { return a.count == 0 }

// Count returns the total number of recorded failures.
func (a *Aggregate) Count() int { return a.count }

// Err returns nil if Empty, otherwise an error whose message is the
// first cause plus a count of any further failures.
func (a *Aggregate) Err() error {
	if a.Empty() {
		return nil
	}
	if a.count == 1 {
		return a.first
	}
	return fmt.Errorf("%w (and %d more failure(s))", a.first, a.count-1)
}
