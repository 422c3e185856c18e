// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package metadata implements the typed repository of §4.D: a set of
// content/ULID-keyed collections (Configuration, Dataset, Store,
// Snapshot, Tree, File, Chunk, Pack, Xattr) over a sorted key-value
// store supporting range scans by prefix and crash-consistent batched
// writes.
//
// The spec's Non-goals explicitly decline to pin a specific embedded
// KV engine, so this file is deliberately thin: it is the only place
// that imports bbolt, and every other file in this package talks to
// DB's typed methods, never to a bucket directly.
package metadata

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// Bucket names double as the range-scan prefixes required by §4.D.
const (
	bucketConfiguration = "configuration"
	bucketDataset       = "dataset"
	bucketStore         = "store"
	bucketLatest        = "latest"
	bucketSnapshot      = "snapshot"
	bucketPendingSnap   = "snapshot_pending"
	bucketTree          = "tree"
	bucketFile          = "file"
	bucketChunk         = "chunk"
	bucketPack          = "pack"
	bucketXattr         = "xattr"
	bucketDBase         = "dbase"
)

var allBuckets = []string{
	bucketConfiguration, bucketDataset, bucketStore, bucketLatest,
	bucketSnapshot, bucketPendingSnap, bucketTree, bucketFile,
	bucketChunk, bucketPack, bucketXattr, bucketDBase,
}

// DB is the typed repository handle. It is safe for concurrent use
// by multiple goroutines in a single process; cross-process access is
// not supported (§5).
type DB struct {
	bolt *bbolt.DB
}

// Open opens (creating if absent) the bbolt database at path and
// ensures every collection bucket exists.
func Open(path string) (*DB, error) {
	bdb, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("metadata: init buckets: %w", err)
	}
	return &DB{bolt: bdb}, nil
}

// Close releases the underlying file lock.
func (d *DB) Close() error { return d.bolt.Close() }

// get reads a single key from bucket, reporting (nil, false, nil) if
// absent.
func (d *DB) get(bucket, key string) ([]byte, bool, error) {
	var out []byte
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		v := b.Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// put writes a single key unconditionally.
func (d *DB) put(bucket, key string, value []byte) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), value)
	})
}

// delete removes a single key, a no-op if it is already absent.
func (d *DB) delete(bucket, key string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// putIdempotent writes value to bucket/key only if the key is absent
// or already holds an identical payload, per §4.D's "inserting an
// existing content-key with identical payload is a no-op; inserting
// with conflicting payload for a content-key is a bug." Content-keyed
// collections (Tree, File, Chunk, Xattr — and Snapshot once finalised)
// call this instead of put.
func (d *DB) putIdempotent(bucket, key string, value []byte) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		existing := b.Get([]byte(key))
		if existing == nil {
			return b.Put([]byte(key), value)
		}
		if !bytesEqual(existing, value) {
			return fmt.Errorf("metadata: conflicting payload for content-key %s/%s", bucket, key)
		}
		return nil
	})
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// scanPrefix iterates all key/value pairs in bucket whose key starts
// with prefix, invoking fn for each until it returns false or an
// error occurs.
func (d *DB) scanPrefix(bucket, prefix string, fn func(key string, value []byte) (bool, error)) error {
	return d.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		pfx := []byte(prefix)
		for k, v := c.Seek(pfx); k != nil && hasPrefix(k, pfx); k, v = c.Next() {
			cont, err := fn(string(k), v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Batch scopes writes to the single bbolt transaction WithBatch opens,
// so every write made through it commits atomically (§4.D:
// "crash-consistent batched put (all or none)"). WithBatch's fn should
// write through the Batch's own methods rather than DB's own
// put/putIdempotent, which each open their own transaction.
type Batch struct {
	tx *bbolt.Tx
}

// WithBatch opens one read-write transaction, runs fn against it, and
// commits only if fn returns nil.
func (d *DB) WithBatch(fn func(*Batch) error) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return fn(&Batch{tx: tx})
	})
}

func (b *Batch) put(bucket, key string, value []byte) error {
	return b.tx.Bucket([]byte(bucket)).Put([]byte(key), value)
}

func (b *Batch) putIdempotent(bucket, key string, value []byte) error {
	bk := b.tx.Bucket([]byte(bucket))
	existing := bk.Get([]byte(key))
	if existing == nil {
		return bk.Put([]byte(key), value)
	}
	if !bytesEqual(existing, value) {
		return fmt.Errorf("metadata: conflicting payload for content-key %s/%s", bucket, key)
	}
	return nil
}

func (b *Batch) get(bucket, key string) ([]byte, bool, error) {
	v := b.tx.Bucket([]byte(bucket)).Get([]byte(key))
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}
