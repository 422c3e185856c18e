// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

// ChunkRef is one entry in a File's ordered chunk list (§3).
type ChunkRef struct {
	Offset uint64 `msgpack:"1"`
	Hash   string `msgpack:"2"`
}

// FileRecord is keyed by the content-hash observed at snapshot time
// (§3). If Changed is set, this record is a redirect: the file's
// bytes differed between scan time and packing time, and the real
// record lives under the Changed digest instead (Length/Chunks are
// empty on a redirect record).
type FileRecord struct {
	ContentHash string     `msgpack:"1"`
	Length      uint64     `msgpack:"2"`
	Chunks      []ChunkRef `msgpack:"3,omitempty"`
	Changed     string     `msgpack:"4,omitempty"`
}

func fileKey(hash string) string { return bucketFile + "/" + hash }

// PutFile idempotently inserts a FileRecord under its ContentHash.
func (d *DB) PutFile(f FileRecord) error {
	raw, err := encode(f)
	if err != nil {
		return err
	}
	return d.putIdempotent(bucketFile, fileKey(f.ContentHash), raw)
}

// GetFile fetches a FileRecord by content-hash.
func (d *DB) GetFile(hash string) (FileRecord, bool, error) {
	raw, ok, err := d.get(bucketFile, fileKey(hash))
	if err != nil || !ok {
		return FileRecord{}, ok, err
	}
	var f FileRecord
	if err := decode(raw, &f); err != nil {
		return FileRecord{}, false, err
	}
	return f, true, nil
}

// PutFile is the Batch-scoped counterpart of DB.PutFile. The backup
// driver commits each completed file's records in a batch of their
// own, after the batch holding the Chunk/Pack records of the pack that
// completed it, so the two commits are not atomic with each other.
func (b *Batch) PutFile(f FileRecord) error {
	raw, err := encode(f)
	if err != nil {
		return err
	}
	return b.putIdempotent(bucketFile, fileKey(f.ContentHash), raw)
}

// ResolveFile follows a single Changed redirect, if present, and
// returns the record actually holding chunk data (§4.G step 1).
func (d *DB) ResolveFile(hash string) (FileRecord, bool, error) {
	f, ok, err := d.GetFile(hash)
	if err != nil || !ok {
		return FileRecord{}, ok, err
	}
	if f.Changed == "" {
		return f, true, nil
	}
	return d.GetFile(f.Changed)
}
