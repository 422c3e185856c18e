// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import "go.etcd.io/bbolt"

// StoreBucket is the currently active upload bucket for one store key
// (§4.J: "chosen at first-pack upload into a given store; subsequent
// packs reuse buckets until their per-bucket cap is reached"). It is
// not itself content-keyed — it mutates in place as packs land in it —
// so it lives in the miscellaneous `dbase` collection rather than in
// its own range-scan prefix.
type StoreBucket struct {
	Name        string `msgpack:"1"`
	ObjectCount int    `msgpack:"2"`
}

func storeBucketKey(storeKey string) string { return "bucket/" + storeKey }

// NextBucket returns the bucket a store key's next pack upload should
// target. The first call for a store key, or any call once the active
// bucket's object count has reached cap, mints a fresh name via
// newName and resets the count; otherwise it reuses the existing
// bucket and increments its count. The read-modify-write happens
// inside a single bbolt transaction, so concurrent backups of
// different datasets uploading to the same store never race each
// other into minting two buckets for the same slot.
func (d *DB) NextBucket(storeKey string, cap int, newName func() (string, error)) (string, error) {
	var bucket string
	err := d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDBase))
		key := []byte(storeBucketKey(storeKey))

		var sb StoreBucket
		if raw := b.Get(key); raw != nil {
			if err := decode(raw, &sb); err != nil {
				return err
			}
		}
		if sb.Name == "" || sb.ObjectCount >= cap {
			name, err := newName()
			if err != nil {
				return err
			}
			sb = StoreBucket{Name: name}
		}
		sb.ObjectCount++
		bucket = sb.Name

		raw, err := encode(sb)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
	return bucket, err
}
