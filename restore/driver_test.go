// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zorigami-engine/zorigami/backup"
	"github.com/zorigami-engine/zorigami/keys"
	"github.com/zorigami-engine/zorigami/metadata"
	"github.com/zorigami-engine/zorigami/store"
	"github.com/zorigami-engine/zorigami/zerr"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// testRepo wires a backup.Driver and a restore.Driver against the same
// metadata repository and store set, so tests can seed content with a
// real backup run and then exercise restore against it.
func testRepo(t *testing.T, storeKeys ...string) (*backup.Driver, *Driver, *metadata.DB, map[string]store.Port) {
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

	stores := make(map[string]store.Port, len(storeKeys))
	for _, k := range storeKeys {
		stores[k] = store.NewMemory()
	}

	bdrv := backup.New(db, mk, stores, nil)
	rdrv := New(db, mk, stores, nil)
	return bdrv, rdrv, db, stores
}

func findEntry(t *testing.T, db *metadata.DB, treeDigest, name string) metadata.TreeEntry {
	t.Helper()
	tr, ok, err := db.GetTree(treeDigest)
	if err != nil || !ok {
		t.Fatalf("GetTree(%s): ok=%v err=%v", treeDigest, ok, err)
	}
	for _, e := range tr.Entries {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("tree %s has no entry named %q", treeDigest, name)
	return metadata.TreeEntry{}
}

func TestRestoreFileRoundTrip(t *testing.T) {
	bdrv, rdrv, db, _ := testRepo(t, "s1")
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello restore world")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	snap, err := bdrv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("backup Run: %v", err)
	}

	entry := findEntry(t, db, snap.Tree, "a.txt")
	destPath := filepath.Join(t.TempDir(), "restored", "a.txt")
	if err := rdrv.RestoreFile(context.Background(), entry, destPath, nil); err != nil {
		t.Fatalf("RestoreFile: %v", err)
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello restore world" {
		t.Errorf("restored content = %q, want %q", got, "hello restore world")
	}
}

func TestRestoreTreeRoundTrip(t *testing.T) {
	bdrv, rdrv, db, _ := testRepo(t, "s1")
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "top level file")
	mustWriteFile(t, filepath.Join(root, "sub", "b.txt"), "nested file")
	mustWriteFile(t, filepath.Join(root, "sub", "deeper", "c.txt"), "deeply nested file")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	snap, err := bdrv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("backup Run: %v", err)
	}

	destRoot := filepath.Join(t.TempDir(), "restored")
	if err := rdrv.Tree(context.Background(), snap.Tree, destRoot, nil); err != nil {
		t.Fatalf("Tree: %v", err)
	}

	for path, want := range map[string]string{
		"a.txt":              "top level file",
		"sub/b.txt":          "nested file",
		"sub/deeper/c.txt":   "deeply nested file",
	} {
		got, err := os.ReadFile(filepath.Join(destRoot, path))
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", path, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestRestoreTreeSkipsUnchangedFile(t *testing.T) {
	bdrv, rdrv, db, stores := testRepo(t, "s1")
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "stable content")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	snap, err := bdrv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("backup Run: %v", err)
	}

	destRoot := filepath.Join(t.TempDir(), "restored")
	mustWriteFile(t, filepath.Join(destRoot, "a.txt"), "stable content")

	// Swap in a store that errors on every Get: if restore correctly
	// skips the already-matching file, it never needs to call Get.
	rdrv.Stores = map[string]store.Port{"s1": failingPort{stores["s1"]}}

	if err := rdrv.Tree(context.Background(), snap.Tree, destRoot, nil); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destRoot, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "stable content" {
		t.Errorf("content = %q, want unchanged", got)
	}
}

func TestFetchPackFallsBackToNextCoordinate(t *testing.T) {
	bdrv, rdrv, db, stores := testRepo(t, "s1", "s2")
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "replicated across two stores")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1", "s2"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	snap, err := bdrv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("backup Run: %v", err)
	}

	entry := findEntry(t, db, snap.Tree, "a.txt")
	rdrv.Stores = map[string]store.Port{
		"s1": failingPort{stores["s1"]},
		"s2": stores["s2"],
	}

	destPath := filepath.Join(t.TempDir(), "a.txt")
	if err := rdrv.RestoreFile(context.Background(), entry, destPath, nil); err != nil {
		t.Fatalf("RestoreFile (fallback to s2): %v", err)
	}
	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "replicated across two stores" {
		t.Errorf("restored content = %q", got)
	}
}

func TestFetchPackDetectsCorruption(t *testing.T) {
	bdrv, rdrv, db, stores := testRepo(t, "s1")
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "will be corrupted in the store")

	ds := metadata.Dataset{ID: "d1", BasePath: root, PackSize: metadata.MinPackSize, StoreKeys: []string{"s1"}}
	if err := db.PutDataset(ds); err != nil {
		t.Fatalf("PutDataset: %v", err)
	}
	snap, err := bdrv.Run(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("backup Run: %v", err)
	}

	entry := findEntry(t, db, snap.Tree, "a.txt")
	file, ok, err := db.ResolveFile(entry.Reference)
	if err != nil || !ok {
		t.Fatalf("ResolveFile: ok=%v err=%v", ok, err)
	}
	chunk, ok, err := db.GetChunk(file.Chunks[0].Hash)
	if err != nil || !ok {
		t.Fatalf("GetChunk: ok=%v err=%v", ok, err)
	}
	packRec, ok, err := db.GetPack(chunk.PackDigest)
	if err != nil || !ok {
		t.Fatalf("GetPack: ok=%v err=%v", ok, err)
	}
	coord := packRec.Coordinates[0]

	tmp := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(tmp, []byte("not a valid pack at all"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := stores["s1"].Put(context.Background(), coord.Bucket, coord.Object, tmp); err != nil {
		t.Fatalf("tamper Put: %v", err)
	}

	destPath := filepath.Join(t.TempDir(), "a.txt")
	err = rdrv.RestoreFile(context.Background(), entry, destPath, nil)
	if !zerr.Is(err, zerr.Corruption) || !zerr.HasCode(err, zerr.CodePackCorrupt) {
		t.Fatalf("RestoreFile = %v, want Corruption/pack_corrupt", err)
	}
}

func TestRestoreFileUnknownDigest(t *testing.T) {
	_, rdrv, _, _ := testRepo(t, "s1")
	entry := metadata.TreeEntry{Name: "missing.txt", Kind: metadata.KindRegular, Reference: "blake3-0000000000000000000000000000000000000000000000000000000000000000"}
	destPath := filepath.Join(t.TempDir(), "missing.txt")
	err := rdrv.RestoreFile(context.Background(), entry, destPath, nil)
	if !zerr.Is(err, zerr.NotFound) {
		t.Fatalf("RestoreFile = %v, want NotFound", err)
	}
}

// failingPort wraps a store.Port and fails every Get, simulating an
// unreachable coordinate so fallback/skip logic can be exercised
// without a real network dependency.
type failingPort struct {
	store.Port
}

func (failingPort) Get(ctx context.Context, bucket, object, localPath string) error {
	return zerr.New(zerr.Transient, "", "simulated store outage")
}
