// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zorigami-engine/zorigami/keys"
	"github.com/zorigami-engine/zorigami/metadata"
	"github.com/zorigami-engine/zorigami/scanner"
	"github.com/zorigami-engine/zorigami/store"
	"github.com/zorigami-engine/zorigami/zerr"
)

func testDriver(t *testing.T) (*Driver, *metadata.DB) {
	t.Helper()
	db, err := metadata.Open(filepath.Join(t.TempDir(), "zorigami.db"))
	if err != nil {
		t.Fatalf("metadata.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mk, err := keys.Generate()
	if err != nil {
		t.Fatalf("keys.Generate: %v", err)
	}
	mem := store.NewMemory()
	drv := New(db, mk, map[string]store.Port{"s1": mem}, nil)

	now := int64(1000)
	drv.Clock = func() int64 { now++; return now }
	return drv, db
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRunFirstBackupHasNoParent(t *testing.T) {
	drv, db := testDriver(t)
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello world")
	mustWriteFile(t, filepath.Join(root, "b.txt"), "second file")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}

	snap, err := drv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.Parent != "" {
		t.Errorf("Parent = %q, want empty for first backup", snap.Parent)
	}
	if snap.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", snap.FileCount)
	}

	got, ok, err := db.GetSnapshot(snap.Digest)
	if err != nil || !ok {
		t.Fatalf("GetSnapshot: ok=%v err=%v", ok, err)
	}
	if got.EndTime == 0 {
		t.Errorf("finalised snapshot has EndTime 0")
	}

	latest, ok, err := db.GetLatest("d1")
	if err != nil || !ok || latest != snap.Digest {
		t.Errorf("GetLatest = %q, ok=%v, want %q", latest, ok, snap.Digest)
	}
	if _, ok, err := db.GetPendingSnapshot("d1"); err != nil || ok {
		t.Errorf("expected pending sentinel cleared, ok=%v err=%v", ok, err)
	}
}

func TestRunSecondBackupOnlyPacksChangedFile(t *testing.T) {
	drv, db := testDriver(t)
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "unchanged")
	mustWriteFile(t, filepath.Join(root, "b.txt"), "will change")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	first, err := drv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before := countPackObjects(t, drv.Stores["s1"])

	mustWriteFile(t, filepath.Join(root, "b.txt"), "changed content")
	second, err := drv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Parent != first.Digest {
		t.Errorf("Parent = %q, want %q", second.Parent, first.Digest)
	}
	if second.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2 (total files in the tree, not just the changed one)", second.FileCount)
	}
	if after := countPackObjects(t, drv.Stores["s1"]); after != before+1 {
		t.Errorf("pack objects after second Run = %d, want %d (one new pack for the changed file only)", after, before+1)
	}
}

func TestBucketAssignmentPersistsAcrossRuns(t *testing.T) {
	drv, db := testDriver(t)
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello world")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	if _, err := drv.Run(context.Background(), "d1", nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	mem := drv.Stores["s1"]
	buckets := listBuckets(t, mem)
	if len(buckets) != 1 {
		t.Fatalf("buckets after first run = %v, want exactly 1", buckets)
	}
	if len(buckets[0]) < 26 {
		t.Errorf("bucket name %q shorter than a bare ULID, want <ulid><computer-uuid>", buckets[0])
	}

	mustWriteFile(t, filepath.Join(root, "b.txt"), "second file")
	if _, err := drv.Run(context.Background(), "d1", nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	again := listBuckets(t, mem)
	if len(again) != 1 || again[0] != buckets[0] {
		t.Errorf("buckets after second run = %v, want the single bucket %q reused (not reset to a new one)", again, buckets[0])
	}
}

func listBuckets(t *testing.T, port store.Port) []string {
	t.Helper()
	var out []string
	if err := port.ListBuckets(context.Background(), func(bucket string) error {
		out = append(out, bucket)
		return nil
	}); err != nil {
		t.Fatalf("ListBuckets: %v", err)
	}
	return out
}

func TestRunIdempotentRerunReturnsParentSnapshot(t *testing.T) {
	drv, db := testDriver(t)
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello world")
	mustWriteFile(t, filepath.Join(root, "b.txt"), "second file")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}

	first, err := drv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	before := countPackObjects(t, drv.Stores["s1"])

	second, err := drv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Digest != first.Digest {
		t.Errorf("Digest = %q, want %q (unchanged rerun must return the existing snapshot)", second.Digest, first.Digest)
	}
	if second.Parent != first.Parent || second.StartTime != first.StartTime || second.EndTime != first.EndTime {
		t.Errorf("rerun returned a differently-timestamped snapshot: %+v, want %+v", second, first)
	}

	after := countPackObjects(t, drv.Stores["s1"])
	if after != before {
		t.Errorf("pack object count changed from %d to %d on a no-op rerun", before, after)
	}

	if _, ok, err := db.GetPendingSnapshot("d1"); err != nil || ok {
		t.Errorf("expected no pending sentinel left after idempotent rerun, ok=%v err=%v", ok, err)
	}

	latest, ok, err := db.GetLatest("d1")
	if err != nil || !ok || latest != first.Digest {
		t.Errorf("GetLatest = %q, ok=%v, want %q unchanged", latest, ok, first.Digest)
	}
}

func countPackObjects(t *testing.T, port store.Port) int {
	t.Helper()
	n := 0
	err := port.ListBuckets(context.Background(), func(bucket string) error {
		return port.ListObjects(context.Background(), bucket, "", func(object string) error {
			n++
			return nil
		})
	})
	if err != nil {
		t.Fatalf("countPackObjects: %v", err)
	}
	return n
}

func TestRunRejectsConcurrentBackupOfSameDataset(t *testing.T) {
	drv, db := testDriver(t)
	if err := db.PutDataset(metadata.Dataset{ID: "d1", BasePath: t.TempDir(), PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	if !drv.locks.TryLock("d1") {
		t.Fatalf("setup: could not acquire lock")
	}
	defer drv.locks.Unlock("d1")

	_, err := drv.Run(context.Background(), "d1", nil)
	if !zerr.Is(err, zerr.Transient) || !zerr.HasCode(err, zerr.CodeDatasetBusy) {
		t.Fatalf("Run = %v, want Transient/dataset_busy", err)
	}
}

func TestRunResumesPendingSnapshotAfterCrash(t *testing.T) {
	drv, db := testDriver(t)
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "first file")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}

	// Simulate a crash between step 2 (pending sentinel written, trees
	// persisted) and step 8 (finalised): capture and persist exactly
	// what Run itself would have, then write the sentinel directly.
	result, err := scanner.Capture(root)
	if err != nil {
		t.Fatalf("scanner.Capture: %v", err)
	}
	for _, tr := range result.Trees {
		if err := db.PutTree(tr); err != nil {
			t.Fatalf("PutTree: %v", err)
		}
	}
	pending := metadata.Snapshot{Tree: result.RootDigest, StartTime: 1}
	pending.Digest = pending.ComputeDigest()
	if err := db.PutPendingSnapshot("d1", pending); err != nil {
		t.Fatalf("PutPendingSnapshot: %v", err)
	}

	ids, err := db.ListPendingDatasetIDs()
	if err != nil || len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("ListPendingDatasetIDs = %v, err=%v", ids, err)
	}

	snap, err := drv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("Run (resume): %v", err)
	}
	if snap.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1", snap.FileCount)
	}
	if _, ok, err := db.GetPendingSnapshot("d1"); err != nil || ok {
		t.Errorf("expected pending sentinel cleared after resume, ok=%v err=%v", ok, err)
	}
}

func TestRunUnknownDataset(t *testing.T) {
	drv, _ := testDriver(t)
	_, err := drv.Run(context.Background(), "missing", nil)
	if !zerr.Is(err, zerr.NotFound) {
		t.Fatalf("Run = %v, want NotFound", err)
	}
}
