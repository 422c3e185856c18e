// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

// ChunkRecord is keyed by chunk content-hash (§3).
type ChunkRecord struct {
	Hash       string `msgpack:"1"`
	Length     uint32 `msgpack:"2"`
	PackDigest string `msgpack:"3"`
}

func chunkKey(hash string) string { return bucketChunk + "/" + hash }

// PutChunk idempotently inserts a ChunkRecord under its Hash.
func (d *DB) PutChunk(c ChunkRecord) error {
	raw, err := encode(c)
	if err != nil {
		return err
	}
	return d.putIdempotent(bucketChunk, chunkKey(c.Hash), raw)
}

// GetChunk fetches a ChunkRecord by hash.
func (d *DB) GetChunk(hash string) (ChunkRecord, bool, error) {
	raw, ok, err := d.get(bucketChunk, chunkKey(hash))
	if err != nil || !ok {
		return ChunkRecord{}, ok, err
	}
	var c ChunkRecord
	if err := decode(raw, &c); err != nil {
		return ChunkRecord{}, false, err
	}
	return c, true, nil
}

// HasChunk reports whether a chunk is already known, so the backup
// driver's pack builder can skip re-packing it (§4.F step 4: "chunks
// already present in the Chunk collection are marked uploaded and
// omitted from the pending set").
func (d *DB) HasChunk(hash string) (bool, error) {
	_, ok, err := d.get(bucketChunk, chunkKey(hash))
	return ok, err
}

// PutChunk is the Batch-scoped counterpart of DB.PutChunk, for
// committing a pack's chunk records in the same transaction as its
// Pack record (§4.F step 7). The backup driver commits File records in
// separate, later batches.
func (b *Batch) PutChunk(c ChunkRecord) error {
	raw, err := encode(c)
	if err != nil {
		return err
	}
	return b.putIdempotent(bucketChunk, chunkKey(c.Hash), raw)
}
