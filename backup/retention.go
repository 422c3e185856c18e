// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"fmt"
	"time"

	"github.com/zorigami-engine/zorigami/metadata"
	"github.com/zorigami-engine/zorigami/zerr"
)

// ApplyRetention recomputes which of datasetID's snapshots should be
// kept under its RetentionPolicy and persists the result as
// Dataset.RetainedSnapshots. It never touches Snapshot, Tree, Chunk,
// or Pack records — actually reclaiming the space a prune decision
// makes available is garbage collection, which is out of scope.
func ApplyRetention(db *metadata.DB, datasetID string) ([]string, error) {
	ds, ok, err := db.GetDataset(datasetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, zerr.New(zerr.NotFound, zerr.CodeFileNotFound, fmt.Sprintf("dataset %s not found", datasetID))
	}
	if ds.LatestSnapshot == "" {
		return nil, nil
	}

	var chain []metadata.Snapshot
	for dig := ds.LatestSnapshot; dig != ""; {
		snap, ok, err := db.GetSnapshot(dig)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		chain = append(chain, snap)
		dig = snap.Parent
	}

	retained := retainedDigests(chain, ds.RetentionPolicy)
	ds.RetainedSnapshots = retained
	if err := db.PutDataset(ds); err != nil {
		return nil, err
	}
	return retained, nil
}

// retainedDigests applies a count-and-age policy over chain, which
// must be ordered newest-first (as a walk of Parent links from the
// dataset's latest snapshot naturally produces). A zero field keeps
// nothing from its tier; a policy whose fields are all zero retains
// everything.
func retainedDigests(chain []metadata.Snapshot, policy metadata.RetentionPolicy) []string {
	keep := make(map[string]bool)

	for i := 0; i < len(chain) && i < policy.KeepLast; i++ {
		keep[chain[i].Digest] = true
	}
	if policy.KeepDaily > 0 {
		markNewestPerBucket(chain, keep, policy.KeepDaily, dayBucket)
	}
	if policy.KeepWeekly > 0 {
		markNewestPerBucket(chain, keep, policy.KeepWeekly, weekBucket)
	}

	if policy.KeepLast == 0 && policy.KeepDaily == 0 && policy.KeepWeekly == 0 {
		out := make([]string, len(chain))
		for i, s := range chain {
			out[i] = s.Digest
		}
		return out
	}

	out := make([]string, 0, len(keep))
	for _, s := range chain {
		if keep[s.Digest] {
			out = append(out, s.Digest)
		}
	}
	return out
}

// markNewestPerBucket keeps the newest snapshot in each of the limit
// most recent distinct buckets bucketFn produces. chain must be
// newest-first, so the first snapshot seen for a bucket is always its
// newest member.
func markNewestPerBucket(chain []metadata.Snapshot, keep map[string]bool, limit int, bucketFn func(int64) string) {
	seen := make(map[string]bool, limit)
	for _, s := range chain {
		k := bucketFn(s.EndTime)
		if seen[k] {
			continue
		}
		if len(seen) >= limit {
			break
		}
		seen[k] = true
		keep[s.Digest] = true
	}
}

func dayBucket(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("2006-01-02")
}

func weekBucket(epoch int64) string {
	t := time.Unix(epoch, 0).UTC()
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
