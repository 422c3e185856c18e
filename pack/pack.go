// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package pack implements the pack container and its AEAD envelope
// (§4.B, §6). A pack is a tar-like sequence of chunk entries, each
// named by its content digest, optionally compressed, then sealed
// inside an encrypted envelope keyed by the repository's two master
// keys.
package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zorigami-engine/zorigami/digest"
)

// Entry is one chunk stored inside a pack container.
type Entry struct {
	Hash digest.Digest
	Data []byte
}

// entryHeader is the msgpack-encoded record preceding each entry's
// raw bytes. Timestamps are deliberately absent — unlike a real tar
// header, pack entries carry no mtime, so two packs built from the
// same chunk set are byte-identical regardless of when they were
// built (useful for dedup tests and reproducible builds).
type entryHeader struct {
	Hash string `msgpack:"1"`
	Size uint32 `msgpack:"2"`
}

// BuildContainer serializes entries into the flat, uncompressed
// container format: repeated [4-byte header length][msgpack
// header][raw bytes].
func BuildContainer(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		hdr, err := msgpack.Marshal(entryHeader{Hash: e.Hash.String(), Size: uint32(len(e.Data))})
		if err != nil {
			return nil, fmt.Errorf("pack: marshal entry header: %w", err)
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdr)))
		buf.Write(lenBuf[:])
		buf.Write(hdr)
		buf.Write(e.Data)
	}
	return buf.Bytes(), nil
}

// ExtractContainer reverses BuildContainer.
func ExtractContainer(raw []byte) ([]Entry, error) {
	var entries []Entry
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, fmt.Errorf("pack: truncated entry header length")
		}
		hdrLen := binary.LittleEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint64(hdrLen) > uint64(len(raw)) {
			return nil, fmt.Errorf("pack: truncated entry header")
		}
		var hdr entryHeader
		if err := msgpack.Unmarshal(raw[:hdrLen], &hdr); err != nil {
			return nil, fmt.Errorf("pack: unmarshal entry header: %w", err)
		}
		raw = raw[hdrLen:]
		if uint64(hdr.Size) > uint64(len(raw)) {
			return nil, fmt.Errorf("pack: truncated entry body for %s", hdr.Hash)
		}
		data := raw[:hdr.Size]
		raw = raw[hdr.Size:]

		if !digest.Digest(hdr.Hash).Valid() {
			return nil, fmt.Errorf("pack: entry has malformed digest %q", hdr.Hash)
		}
		entries = append(entries, Entry{Hash: digest.Digest(hdr.Hash), Data: append([]byte(nil), data...)})
	}
	return entries, nil
}

// Find returns the entry with the given hash, if present.
func Find(entries []Entry, hash digest.Digest) (Entry, bool) {
	for _, e := range entries {
		if e.Hash == hash {
			return e, true
		}
	}
	return Entry{}, false
}
