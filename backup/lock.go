// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package backup

import "sync"

// datasetLocks is the advisory, single-process lock keyed by dataset
// ID: "single writer per dataset" (§4.F concurrency). Grounded on the
// teacher's ReconnectingClient.mu guarding shared client state: one
// mutex guards the set of dataset IDs currently held.
type datasetLocks struct {
	mu      sync.Mutex
	holders map[string]bool
}

func newDatasetLocks() *datasetLocks {
	return &datasetLocks{holders: make(map[string]bool)}
}

// TryLock acquires the advisory lock for datasetID, reporting false if
// it is already held.
func (l *datasetLocks) TryLock(datasetID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[datasetID] {
		return false
	}
	l.holders[datasetID] = true
	return true
}

// Unlock releases the advisory lock for datasetID.
func (l *datasetLocks) Unlock(datasetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, datasetID)
}
