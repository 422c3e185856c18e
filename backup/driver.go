// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package backup implements the backup driver lifecycle of §4.F: scan
// a dataset, diff it against its parent snapshot, pack and upload the
// chunks that changed, and commit the result as a new finalised
// snapshot — resumably, since a crash between any two steps must be
// recoverable from the pending-snapshot sentinel alone.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/zorigami-engine/zorigami/control"
	"github.com/zorigami-engine/zorigami/digest"
	"github.com/zorigami-engine/zorigami/identity"
	"github.com/zorigami-engine/zorigami/keys"
	"github.com/zorigami-engine/zorigami/metadata"
	"github.com/zorigami-engine/zorigami/scanner"
	"github.com/zorigami-engine/zorigami/store"
	"github.com/zorigami-engine/zorigami/zerr"
)

// Clock returns the current epoch second. Tests supply a fixed Clock
// so Snapshot digests are reproducible.
type Clock func() int64

func systemClock() int64 { return time.Now().Unix() }

// Driver runs the backup lifecycle for one dataset at a time,
// serialising concurrent attempts on the same dataset via an advisory
// lock (§4.F concurrency: "single writer per dataset").
type Driver struct {
	DB     *metadata.DB
	Keys   keys.MasterKeys
	Stores map[string]store.Port // keyed by StoreRecord.ID
	Logger *slog.Logger
	Clock  Clock

	locks *datasetLocks
}

// New constructs a Driver. stores must contain a Port for every
// StoreRecord.ID a Dataset might reference; logger defaults to
// slog.Default if nil.
func New(db *metadata.DB, mk keys.MasterKeys, stores map[string]store.Port, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		DB:     db,
		Keys:   mk,
		Stores: stores,
		Logger: logger,
		Clock:  systemClock,
		locks:  newDatasetLocks(),
	}
}

// fileState tracks one changed file between chunking and commit: its
// chunk list and whether the bytes read at packing time still match
// what the scanner observed.
type fileState struct {
	scanHash   string
	actualHash string
	length     uint64
	chunks     []metadata.ChunkRef
}

// Run executes one full backup pass of datasetID, resuming a pending
// snapshot left behind by a prior crash if one exists (§4.F steps
// 1-8). It returns the finalised Snapshot.
func (d *Driver) Run(ctx context.Context, datasetID string, tok *control.Token) (metadata.Snapshot, error) {
	if tok == nil {
		tok = control.New()
	}
	if !d.locks.TryLock(datasetID) {
		return metadata.Snapshot{}, zerr.New(zerr.Transient, zerr.CodeDatasetBusy,
			fmt.Sprintf("dataset %s already has a backup in progress", datasetID))
	}
	defer d.locks.Unlock(datasetID)

	ds, ok, err := d.DB.GetDataset(datasetID)
	if err != nil {
		return metadata.Snapshot{}, err
	}
	if !ok {
		return metadata.Snapshot{}, zerr.New(zerr.NotFound, zerr.CodeFileNotFound,
			fmt.Sprintf("dataset %s not found", datasetID))
	}

	stores, err := d.datasetStores(ds)
	if err != nil {
		return metadata.Snapshot{}, err
	}

	// Step 2: always re-scan, even when resuming — the scan is
	// idempotent over an unchanged tree, and crash recovery needs the
	// captured file paths (scanner.Result is never itself persisted).
	result, err := scanner.Capture(ds.BasePath, scanner.WithExclude(ds.IgnoreGlobs...))
	if err != nil {
		return metadata.Snapshot{}, fmt.Errorf("backup: capture %s: %w", ds.BasePath, err)
	}
	if err := d.persistScan(result); err != nil {
		return metadata.Snapshot{}, err
	}

	pending, resuming, err := d.DB.GetPendingSnapshot(datasetID)
	if err != nil {
		return metadata.Snapshot{}, err
	}
	if !resuming {
		pending = metadata.Snapshot{
			Parent:    ds.LatestSnapshot,
			Tree:      result.RootDigest,
			StartTime: d.Clock(),
		}
		pending.Digest = pending.ComputeDigest()
		if err := d.DB.PutPendingSnapshot(datasetID, pending); err != nil {
			return metadata.Snapshot{}, err
		}
	}

	// Idempotent re-run (§8 S2): if the tree captured this pass is
	// identical to the parent's, nothing changed since the last backup.
	// Discard the sentinel and hand back the parent unaltered instead of
	// minting a new Snapshot — a fresh one would carry a new StartTime/
	// EndTime and so could never compare equal to a prior run's digest.
	if pending.Parent != "" {
		parent, ok, err := d.DB.GetSnapshot(pending.Parent)
		if err != nil {
			return metadata.Snapshot{}, err
		}
		if ok && parent.Tree == pending.Tree {
			if err := d.DB.DeletePendingSnapshot(datasetID); err != nil {
				return metadata.Snapshot{}, err
			}
			return parent, nil
		}
	}

	// Step 3: diff against the parent (full enumeration if there is
	// none), then drop anything already committed to the File
	// collection by an earlier run over this same content.
	changed, err := d.changedFiles(pending, result)
	if err != nil {
		return metadata.Snapshot{}, err
	}

	builder := newPackBuilder(ds.PackSize)
	var inFlight []*fileState
	computer := d.computerUUID()

	flush := func() error {
		if builder.Empty() {
			return nil
		}
		if err := d.sealAndCommit(ctx, builder, stores, computer); err != nil {
			return err
		}
		settled, err := d.settleFiles(inFlight)
		if err != nil {
			return err
		}
		inFlight = settled
		return nil
	}

	for _, cf := range changed {
		if err := tok.CheckPoint(ctx); err != nil {
			return metadata.Snapshot{}, err
		}

		if _, ok, err := d.DB.GetFile(cf.ContentHash); err != nil {
			return metadata.Snapshot{}, err
		} else if ok {
			continue
		}

		ref, ok := result.Files[cf.ContentHash]
		if !ok {
			d.Logger.Warn("backup: changed file no longer present", "dataset", datasetID, "path", cf.Path)
			continue
		}

		data, err := os.ReadFile(ref.Path)
		if err != nil {
			d.Logger.Warn("backup: read failed, skipping", "path", ref.Path, "error", err)
			continue
		}
		// The file may have been written to between scan time and
		// now: hash what is actually on disk, not what the scanner
		// observed (§4.F "file changed during backup").
		actual := digest.BLAKE3Sum(data).String()

		chunks, err := chunkFile(data, ds.PackSize)
		if err != nil {
			return metadata.Snapshot{}, fmt.Errorf("backup: chunk %s: %w", ref.Path, err)
		}

		fs := &fileState{scanHash: cf.ContentHash, actualHash: actual, length: uint64(len(data))}
		for _, c := range chunks {
			fs.chunks = append(fs.chunks, metadata.ChunkRef{Offset: c.Offset, Hash: c.Hash.String()})
			known, err := d.DB.HasChunk(c.Hash.String())
			if err != nil {
				return metadata.Snapshot{}, err
			}
			if !known {
				builder.AddChunk(c.Hash, c.Data)
			}
		}
		inFlight = append(inFlight, fs)

		if builder.Ready() {
			if err := flush(); err != nil {
				return metadata.Snapshot{}, err
			}
		}
	}

	if err := flush(); err != nil {
		return metadata.Snapshot{}, err
	}
	// Every chunk any remaining fileState references was either
	// already known or just flushed above, so these are all settleable
	// now; settleFiles is still the one place that writes File
	// records, so run it once more rather than duplicating that logic.
	if inFlight, err = d.settleFiles(inFlight); err != nil {
		return metadata.Snapshot{}, err
	}
	if len(inFlight) != 0 {
		return metadata.Snapshot{}, fmt.Errorf("backup: %d file(s) left uncommitted after final flush", len(inFlight))
	}

	final := metadata.Snapshot{
		Parent:    pending.Parent,
		Tree:      pending.Tree,
		StartTime: pending.StartTime,
		EndTime:   d.Clock(),
		// Total distinct file content captured in this tree, not the
		// changed/new subset actually packed this run — an unchanged
		// rerun still reports the full count rather than zero.
		FileCount: uint64(len(result.Files)),
	}
	final.Digest = final.ComputeDigest()
	if err := d.DB.PutSnapshot(final); err != nil {
		return metadata.Snapshot{}, err
	}
	if err := d.DB.SetLatest(datasetID, final.Digest); err != nil {
		return metadata.Snapshot{}, err
	}
	if err := d.DB.DeletePendingSnapshot(datasetID); err != nil {
		return metadata.Snapshot{}, err
	}
	ds.LatestSnapshot = final.Digest
	if err := d.DB.PutDataset(ds); err != nil {
		return metadata.Snapshot{}, err
	}
	return final, nil
}

// persistScan writes every Tree and xattr value a capture produced
// into the repository, ahead of diffing, so a crash immediately after
// can still resolve the pending snapshot's tree on resume.
func (d *Driver) persistScan(result *scanner.Result) error {
	for _, t := range result.Trees {
		if err := d.DB.PutTree(t); err != nil {
			return err
		}
	}
	for dig, value := range result.Xattrs {
		if err := d.DB.PutXattr(dig, value); err != nil {
			return err
		}
	}
	return nil
}

// changedFiles resolves step 3: every regular file under the new
// tree if there is no parent, otherwise the breadth-first diff
// against the parent's tree. newLookup falls back to the repository
// for any digest missing from this run's in-memory capture — the case
// on resume after a crash, where pending.Tree was captured and
// persisted by the attempt that crashed, not this one.
func (d *Driver) changedFiles(pending metadata.Snapshot, result *scanner.Result) ([]scanner.ChangedFile, error) {
	inMemory := scanner.MapLookup(result.Trees)
	newLookup := func(dig string) (metadata.Tree, bool, error) {
		if t, ok, err := inMemory(dig); ok || err != nil {
			return t, ok, err
		}
		return d.DB.GetTree(dig)
	}
	if pending.Parent == "" {
		return scanner.Diff(scanner.MapLookup(nil), newLookup, "", pending.Tree)
	}
	parent, ok, err := d.DB.GetSnapshot(pending.Parent)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("backup: parent snapshot %s not found", pending.Parent)
	}
	oldLookup := scanner.Lookup(d.DB.GetTree)
	return scanner.Diff(oldLookup, newLookup, parent.Tree, pending.Tree)
}

// storeBinding pairs a configured Port with the key it was registered
// under, preserving ds.StoreKeys order — restore's coordinate fallback
// (§4.G step 2: "prefer stores in the dataset's declared order") needs
// Pack.Coordinates recorded in that same order, which a map can't give.
type storeBinding struct {
	Key  string
	Port store.Port
}

// datasetStores resolves ds.StoreKeys to their configured Ports, in
// declared order.
func (d *Driver) datasetStores(ds metadata.Dataset) ([]storeBinding, error) {
	out := make([]storeBinding, 0, len(ds.StoreKeys))
	for _, key := range ds.StoreKeys {
		port, ok := d.Stores[key]
		if !ok {
			return nil, fmt.Errorf("backup: dataset %s references unconfigured store %s", ds.ID, key)
		}
		out = append(out, storeBinding{Key: key, Port: port})
	}
	return out, nil
}

// computerUUID resolves the repository's computer identity for bucket
// naming (§4.J). A Driver exercised without an initialised repository
// Configuration (as in unit tests that upload straight to an in-memory
// store) falls back to the nil UUID rather than failing the backup.
func (d *Driver) computerUUID() uuid.UUID {
	cfg, ok, err := d.DB.GetConfiguration()
	if err != nil || !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(cfg.ComputerUUID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// bucketFor resolves the bucket the next pack uploaded to storeKey
// should land in: a fresh `<ULID> <computer-UUID-nodash>` name at
// first use or once the active bucket's object cap is reached,
// otherwise the bucket already in use (§4.C/§4.J: "chosen at
// first-pack upload into a given store; subsequent packs reuse
// buckets until their per-bucket cap is reached").
func (d *Driver) bucketFor(storeKey string, computer uuid.UUID) (string, error) {
	return d.DB.NextBucket(storeKey, store.DefaultBucketObjectCap, func() (string, error) {
		return identity.BucketName(computer)
	})
}

// sealAndCommit flushes the builder into a sealed pack, uploads it to
// every store in stores (requiring at least one success), and
// atomically commits its Chunk and Pack records (§4.F steps 5-7).
func (d *Driver) sealAndCommit(ctx context.Context, builder *packBuilder, stores []storeBinding, computer uuid.UUID) error {
	sealed, err := builder.Flush(d.Keys)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "zorigami-pack-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sealed.Bytes); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	object := store.PackObjectName(sealed.Digest)

	var coords []metadata.Coordinate
	var lastErr error
	for _, sb := range stores {
		bucket, err := d.bucketFor(sb.Key, computer)
		if err != nil {
			d.Logger.Warn("backup: bucket selection failed", "store", sb.Key, "pack", sealed.Digest, "error", err)
			lastErr = err
			continue
		}
		if err := sb.Port.Put(ctx, bucket, object, tmp.Name()); err != nil {
			d.Logger.Warn("backup: upload failed", "store", sb.Key, "pack", sealed.Digest, "error", err)
			lastErr = err
			continue
		}
		coords = append(coords, metadata.Coordinate{StoreKey: sb.Key, Bucket: bucket, Object: object})
	}
	if len(coords) == 0 {
		return fmt.Errorf("backup: pack %s failed to upload to any of %d store(s): %w", sealed.Digest, len(stores), lastErr)
	}

	return d.DB.WithBatch(func(b *metadata.Batch) error {
		for _, c := range sealed.Chunks {
			if err := b.PutChunk(metadata.ChunkRecord{Hash: c.Hash, Length: c.Length, PackDigest: sealed.Digest}); err != nil {
				return err
			}
		}
		return b.PutPack(metadata.PackRecord{Digest: sealed.Digest, Coordinates: coords, UploadTime: d.Clock()})
	})
}

// settleFiles commits the File record for every fileState whose
// chunks are now all durably recorded in the Chunk collection,
// returning the ones still waiting on a future pack.
func (d *Driver) settleFiles(pending []*fileState) ([]*fileState, error) {
	var remaining []*fileState
	for _, fs := range pending {
		ready := true
		for _, c := range fs.chunks {
			ok, err := d.DB.HasChunk(c.Hash)
			if err != nil {
				return nil, err
			}
			if !ok {
				ready = false
				break
			}
		}
		if !ready {
			remaining = append(remaining, fs)
			continue
		}
		if err := d.commitFile(fs); err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

// commitFile writes fs's File record, handling the changed-during-
// backup case: a redirect at the scan-time hash plus the full record
// at the hash actually observed at packing time (§4.F step 7).
func (d *Driver) commitFile(fs *fileState) error {
	return d.DB.WithBatch(func(b *metadata.Batch) error {
		if fs.actualHash != fs.scanHash {
			if err := b.PutFile(metadata.FileRecord{ContentHash: fs.scanHash, Changed: fs.actualHash}); err != nil {
				return err
			}
		}
		return b.PutFile(metadata.FileRecord{ContentHash: fs.actualHash, Length: fs.length, Chunks: fs.chunks})
	})
}

// ResumePending returns every dataset ID with a crash-recovery
// sentinel, for a supervisor to resume before scheduling new work
// (§4.F: "before scheduling new work, scans for pending snapshots").
func ResumePending(db *metadata.DB) ([]string, error) {
	return db.ListPendingDatasetIDs()
}
