// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "zorigami.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfigurationRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if _, ok, err := db.GetConfiguration(); err != nil || ok {
		t.Fatalf("expected no Configuration before first PutConfiguration, got ok=%v err=%v", ok, err)
	}
	cfg := Configuration{Hostname: "box", Username: "alice", ComputerUUID: "abc", Generation: 1}
	if err := db.PutConfiguration(cfg); err != nil {
		t.Fatalf("PutConfiguration: %v", err)
	}
	got, ok, err := db.GetConfiguration()
	if err != nil || !ok {
		t.Fatalf("GetConfiguration: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestDatasetValidation(t *testing.T) {
	db := openTestDB(t)
	if err := db.PutDataset(Dataset{ID: "d1"}); err == nil {
		t.Errorf("expected error for dataset with no store keys")
	}
	ds := Dataset{ID: "d1", BasePath: "/data", StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	got, ok, err := db.GetDataset("d1")
	if err != nil || !ok {
		t.Fatalf("GetDataset: ok=%v err=%v", ok, err)
	}
	if got.PackSize != DefaultPackSize {
		t.Errorf("PackSize = %d, want default %d", got.PackSize, DefaultPackSize)
	}
}

func TestListDatasets(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := db.PutDataset(Dataset{ID: id, StoreKeys: []string{"s1"}}); err != nil {
			t.Fatalf("PutDataset(%s): %v", id, err)
		}
	}
	got, err := db.ListDatasets()
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d datasets, want 3", len(got))
	}
}

func TestLatestPointer(t *testing.T) {
	db := openTestDB(t)
	if _, ok, err := db.GetLatest("d1"); err != nil || ok {
		t.Fatalf("expected no latest pointer yet")
	}
	if err := db.SetLatest("d1", "sha1-deadbeef"); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}
	got, ok, err := db.GetLatest("d1")
	if err != nil || !ok || got != "sha1-deadbeef" {
		t.Fatalf("GetLatest = (%q, %v, %v)", got, ok, err)
	}
}

func TestPendingSnapshotSentinel(t *testing.T) {
	db := openTestDB(t)
	s := Snapshot{Tree: "sha1-tree", StartTime: 100}
	s.Digest = s.ComputeDigest()
	if err := db.PutPendingSnapshot("d1", s); err != nil {
		t.Fatalf("PutPendingSnapshot: %v", err)
	}
	pending, err := db.ListPendingDatasetIDs()
	if err != nil {
		t.Fatalf("ListPendingDatasetIDs: %v", err)
	}
	if len(pending) != 1 || pending[0] != "d1" {
		t.Fatalf("ListPendingDatasetIDs = %v, want [d1]", pending)
	}
	if err := db.DeletePendingSnapshot("d1"); err != nil {
		t.Fatalf("DeletePendingSnapshot: %v", err)
	}
	pending, err = db.ListPendingDatasetIDs()
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending datasets after delete, got %v (err=%v)", pending, err)
	}
}

func TestTreeCanonicalFormStable(t *testing.T) {
	entries := []TreeEntry{
		{Name: "a.txt", Kind: KindRegular, Mode: 0o644, UID: 1, GID: 1, Reference: "blake3-aa"},
		{Name: "b.txt", Kind: KindRegular, Mode: 0o644, UID: 1, GID: 1, Reference: "blake3-bb"},
	}
	SortEntries(entries)
	t1 := Tree{Entries: entries}
	t2 := Tree{Entries: append([]TreeEntry(nil), entries...)}
	if t1.CanonicalForm() != t2.CanonicalForm() {
		t.Errorf("CanonicalForm not stable across identical entry sets")
	}
	if t1.ComputeDigest() != t2.ComputeDigest() {
		t.Errorf("ComputeDigest not stable")
	}
}

func TestTreeIdempotentInsertRejectsConflict(t *testing.T) {
	db := openTestDB(t)
	tree := Tree{Digest: "sha1-fixed", Entries: []TreeEntry{{Name: "x", Reference: "blake3-1"}}}
	if err := db.PutTree(tree); err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	if err := db.PutTree(tree); err != nil {
		t.Errorf("re-inserting identical Tree should be a no-op, got %v", err)
	}
	conflicting := Tree{Digest: "sha1-fixed", Entries: []TreeEntry{{Name: "y", Reference: "blake3-2"}}}
	if err := db.PutTree(conflicting); err == nil {
		t.Errorf("expected error inserting conflicting payload under same digest")
	}
}

func TestFileResolveFollowsChangedRedirect(t *testing.T) {
	db := openTestDB(t)
	real := FileRecord{ContentHash: "blake3-real", Length: 10, Chunks: []ChunkRef{{Offset: 0, Hash: "blake3-chunk"}}}
	redirect := FileRecord{ContentHash: "blake3-old", Changed: "blake3-real"}
	if err := db.PutFile(real); err != nil {
		t.Fatalf("PutFile(real): %v", err)
	}
	if err := db.PutFile(redirect); err != nil {
		t.Fatalf("PutFile(redirect): %v", err)
	}
	got, ok, err := db.ResolveFile("blake3-old")
	if err != nil || !ok {
		t.Fatalf("ResolveFile: ok=%v err=%v", ok, err)
	}
	if got.ContentHash != "blake3-real" || len(got.Chunks) != 1 {
		t.Errorf("ResolveFile did not follow redirect: %+v", got)
	}
}

func TestChunkHasChunk(t *testing.T) {
	db := openTestDB(t)
	if has, err := db.HasChunk("blake3-x"); err != nil || has {
		t.Fatalf("expected HasChunk false before insert")
	}
	if err := db.PutChunk(ChunkRecord{Hash: "blake3-x", Length: 4, PackDigest: "blake3-pack"}); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	if has, err := db.HasChunk("blake3-x"); err != nil || !has {
		t.Fatalf("expected HasChunk true after insert")
	}
}

func TestPackCoordinatesMerge(t *testing.T) {
	db := openTestDB(t)
	dig := "blake3-pack1"
	if err := db.PutPack(PackRecord{Digest: dig, Coordinates: []Coordinate{{StoreKey: "s1", Bucket: "b1", Object: "o1"}}, UploadTime: 1}); err != nil {
		t.Fatalf("PutPack: %v", err)
	}
	if err := db.AddPackCoordinate(dig, Coordinate{StoreKey: "s2", Bucket: "b2", Object: "o2"}); err != nil {
		t.Fatalf("AddPackCoordinate: %v", err)
	}
	got, ok, err := db.GetPack(dig)
	if err != nil || !ok {
		t.Fatalf("GetPack: ok=%v err=%v", ok, err)
	}
	if len(got.Coordinates) != 2 {
		t.Fatalf("got %d coordinates, want 2", len(got.Coordinates))
	}

	// Re-adding the same coordinate must not duplicate it.
	if err := db.AddPackCoordinate(dig, Coordinate{StoreKey: "s2", Bucket: "b2", Object: "o2"}); err != nil {
		t.Fatalf("AddPackCoordinate (dup): %v", err)
	}
	got, _, _ = db.GetPack(dig)
	if len(got.Coordinates) != 2 {
		t.Errorf("duplicate coordinate was appended: %d entries", len(got.Coordinates))
	}
}

func TestXattrIdempotentInsert(t *testing.T) {
	db := openTestDB(t)
	if err := db.PutXattr("sha1-x", []byte("value")); err != nil {
		t.Fatalf("PutXattr: %v", err)
	}
	if err := db.PutXattr("sha1-x", []byte("value")); err != nil {
		t.Errorf("re-inserting identical xattr should be a no-op, got %v", err)
	}
	if err := db.PutXattr("sha1-x", []byte("different")); err == nil {
		t.Errorf("expected error inserting conflicting xattr value under same digest")
	}
	got, ok, err := db.GetXattr("sha1-x")
	if err != nil || !ok || string(got) != "value" {
		t.Fatalf("GetXattr = (%q, %v, %v)", got, ok, err)
	}
}
