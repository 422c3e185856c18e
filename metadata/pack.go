// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"go.etcd.io/bbolt"
)

// Coordinate locates one copy of a pack within a store: which store,
// which bucket, which object name (§3).
type Coordinate struct {
	StoreKey string `msgpack:"1"`
	Bucket   string `msgpack:"2"`
	Object   string `msgpack:"3"`
}

// PackRecord is keyed by the pack file's content-hash (§3). At least
// one Coordinate must exist for a pack to be considered reachable;
// additional coordinates record redundant uploads to other stores.
type PackRecord struct {
	Digest      string       `msgpack:"1"`
	Coordinates []Coordinate `msgpack:"2"`
	UploadTime  int64        `msgpack:"3"`
}

func packKey(dig string) string { return bucketPack + "/" + dig }

// PutPack idempotently inserts a PackRecord if the digest is unseen;
// if it already exists, any Coordinates not already present are
// merged in (§4.F step 6: "additional successes add coordinates to
// the Pack record").
func (d *DB) PutPack(p PackRecord) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPack))
		key := []byte(packKey(p.Digest))
		existing := b.Get(key)
		if existing == nil {
			raw, err := encode(p)
			if err != nil {
				return err
			}
			return b.Put(key, raw)
		}
		var cur PackRecord
		if err := decode(existing, &cur); err != nil {
			return err
		}
		for _, c := range p.Coordinates {
			if !hasCoordinate(cur.Coordinates, c) {
				cur.Coordinates = append(cur.Coordinates, c)
			}
		}
		raw, err := encode(cur)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
}

// PutPack is the Batch-scoped counterpart of DB.PutPack, merging
// coordinates the same way, so a pack's upload commits atomically
// with the Chunk records it contains (§4.F step 7). File records the
// pack completes are committed in separate, later batches.
func (b *Batch) PutPack(p PackRecord) error {
	bk := b.tx.Bucket([]byte(bucketPack))
	key := []byte(packKey(p.Digest))
	existing := bk.Get(key)
	if existing == nil {
		raw, err := encode(p)
		if err != nil {
			return err
		}
		return bk.Put(key, raw)
	}
	var cur PackRecord
	if err := decode(existing, &cur); err != nil {
		return err
	}
	for _, c := range p.Coordinates {
		if !hasCoordinate(cur.Coordinates, c) {
			cur.Coordinates = append(cur.Coordinates, c)
		}
	}
	raw, err := encode(cur)
	if err != nil {
		return err
	}
	return bk.Put(key, raw)
}

// AddPackCoordinate records a single additional successful upload of
// an already-known pack.
func (d *DB) AddPackCoordinate(digest string, c Coordinate) error {
	return d.PutPack(PackRecord{Digest: digest, Coordinates: []Coordinate{c}})
}

func hasCoordinate(list []Coordinate, c Coordinate) bool {
	for _, existing := range list {
		if existing == c {
			return true
		}
	}
	return false
}

// GetPack fetches a PackRecord by digest.
func (d *DB) GetPack(dig string) (PackRecord, bool, error) {
	raw, ok, err := d.get(bucketPack, packKey(dig))
	if err != nil || !ok {
		return PackRecord{}, ok, err
	}
	var p PackRecord
	if err := decode(raw, &p); err != nil {
		return PackRecord{}, false, err
	}
	return p, true, nil
}
