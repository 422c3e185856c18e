// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"

	"github.com/zorigami-engine/zorigami/digest"
)

// Snapshot is keyed by the SHA-1 of its CanonicalForm (§3). EndTime
// of 0 means "in progress" — a pending snapshot.
type Snapshot struct {
	Digest    string `msgpack:"1"`
	Parent    string `msgpack:"2,omitempty"`
	Tree      string `msgpack:"3"`
	StartTime int64  `msgpack:"4"`
	EndTime   int64  `msgpack:"5"`
	FileCount uint64 `msgpack:"6"`
}

// CanonicalForm returns the deterministic textual serialisation whose
// SHA-1 is the snapshot's digest (§3: "parent, tree, start_time_epoch,
// end_time_epoch, file_count").
func (s Snapshot) CanonicalForm() string {
	return fmt.Sprintf("%s\n%s\n%d\n%d\n%d", s.Parent, s.Tree, s.StartTime, s.EndTime, s.FileCount)
}

// ComputeDigest derives the snapshot's content digest from its
// canonical form and returns it; s.Digest is not modified.
func (s Snapshot) ComputeDigest() string {
	return digest.SHA1Sum([]byte(s.CanonicalForm())).String()
}

func snapshotKey(dig string) string { return bucketSnapshot + "/" + dig }
func pendingKey(datasetID string) string { return bucketPendingSnap + "/" + datasetID }

// PutSnapshot idempotently inserts a finalised Snapshot record under
// its own content digest.
func (d *DB) PutSnapshot(s Snapshot) error {
	raw, err := encode(s)
	if err != nil {
		return err
	}
	return d.putIdempotent(bucketSnapshot, snapshotKey(s.Digest), raw)
}

// GetSnapshot fetches a finalised Snapshot by digest.
func (d *DB) GetSnapshot(dig string) (Snapshot, bool, error) {
	raw, ok, err := d.get(bucketSnapshot, snapshotKey(dig))
	if err != nil || !ok {
		return Snapshot{}, ok, err
	}
	var s Snapshot
	if err := decode(raw, &s); err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

// PutPendingSnapshot writes the crash-recovery sentinel for a dataset
// (§3: "stored under a predictable sentinel key per dataset so crash
// recovery can find them"). Unlike finalised snapshots this is an
// unconditional overwrite. The backup driver writes it once when a new
// backup starts and deletes it when the snapshot is finalised.
func (d *DB) PutPendingSnapshot(datasetID string, s Snapshot) error {
	raw, err := encode(s)
	if err != nil {
		return err
	}
	return d.put(bucketPendingSnap, pendingKey(datasetID), raw)
}

// GetPendingSnapshot returns the in-progress Snapshot for a dataset,
// if a crash or restart left one behind.
func (d *DB) GetPendingSnapshot(datasetID string) (Snapshot, bool, error) {
	raw, ok, err := d.get(bucketPendingSnap, pendingKey(datasetID))
	if err != nil || !ok {
		return Snapshot{}, ok, err
	}
	var s Snapshot
	if err := decode(raw, &s); err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

// DeletePendingSnapshot clears the sentinel once a snapshot is
// finalised (§4.F step 8).
func (d *DB) DeletePendingSnapshot(datasetID string) error {
	return d.delete(bucketPendingSnap, pendingKey(datasetID))
}

// ListPendingDatasetIDs returns every dataset ID with a pending
// snapshot sentinel, for start-up crash recovery (§4.F: "before
// scheduling new work, scans for pending snapshots").
func (d *DB) ListPendingDatasetIDs() ([]string, error) {
	var ids []string
	prefix := bucketPendingSnap + "/"
	err := d.scanPrefix(bucketPendingSnap, prefix, func(key string, _ []byte) (bool, error) {
		ids = append(ids, key[len(prefix):])
		return true, nil
	})
	return ids, err
}
