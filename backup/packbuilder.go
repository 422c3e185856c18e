// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"bytes"

	"github.com/zorigami-engine/zorigami/chunker"
	"github.com/zorigami-engine/zorigami/digest"
	"github.com/zorigami-engine/zorigami/keys"
	"github.com/zorigami-engine/zorigami/pack"
)

// pendingChunk is one chunk waiting to be packed: its hash and its
// content.
type pendingChunk struct {
	hash digest.Digest
	data []byte
}

// packBuilder accumulates chunks until their cumulative size crosses
// the dataset's target pack size, then seals them into an encrypted
// pack (§4.F steps 4-5). It holds no I/O dependencies — Flush returns
// the sealed bytes and the chunk records for the driver to upload and
// commit.
type packBuilder struct {
	targetSize uint64
	pending    []pendingChunk
	size       uint64
}

func newPackBuilder(targetSize uint64) *packBuilder {
	return &packBuilder{targetSize: targetSize}
}

// AddChunk enqueues a chunk's bytes for the next pack, unless a chunk
// with the same hash is already pending in this pack.
func (b *packBuilder) AddChunk(hash digest.Digest, data []byte) {
	for _, p := range b.pending {
		if p.hash == hash {
			return
		}
	}
	b.pending = append(b.pending, pendingChunk{hash: hash, data: data})
	b.size += uint64(len(data))
}

// Ready reports whether the pending set has crossed the target pack
// size and should be flushed (§4.F step 5).
func (b *packBuilder) Ready() bool {
	return b.size >= b.targetSize
}

// Empty reports whether there is nothing pending to flush.
func (b *packBuilder) Empty() bool { return len(b.pending) == 0 }

// packedChunk records a chunk that went into a sealed pack, for the
// driver to write its Chunk record.
type packedChunk struct {
	Hash   string
	Length uint32
}

// sealedPack is the result of flushing a packBuilder.
type sealedPack struct {
	Digest string
	Bytes  []byte
	Chunks []packedChunk
}

// Flush builds a container from every pending chunk, seals it under a
// fresh per-pack key (handled inside pack.Seal), and resets the
// builder for the next pack.
func (b *packBuilder) Flush(mk keys.MasterKeys) (sealedPack, error) {
	entries := make([]pack.Entry, len(b.pending))
	chunks := make([]packedChunk, len(b.pending))
	for i, p := range b.pending {
		entries[i] = pack.Entry{Hash: p.hash, Data: p.data}
		chunks[i] = packedChunk{Hash: p.hash.String(), Length: uint32(len(p.data))}
	}
	container, err := pack.BuildContainer(entries)
	if err != nil {
		return sealedPack{}, err
	}
	method, _, err := pack.PickMethod(container, pack.MethodZstd)
	if err != nil {
		return sealedPack{}, err
	}
	sealed, err := pack.Seal(mk, method, container)
	if err != nil {
		return sealedPack{}, err
	}
	digestStr := digest.BLAKE3Sum(sealed).String()

	b.pending = nil
	b.size = 0
	return sealedPack{Digest: digestStr, Bytes: sealed, Chunks: chunks}, nil
}

// chunkFile splits a file's bytes into content-defined chunks sized
// per §4.F step 4: the whole file as a single chunk unless it exceeds
// the target pack size, in which case CDC runs with the desired chunk
// size derived from the dataset's pack size.
func chunkFile(data []byte, packSize uint64) ([]chunker.Chunk, error) {
	if uint64(len(data)) <= packSize {
		return []chunker.Chunk{{
			Offset: 0,
			Length: uint32(len(data)),
			Hash:   digest.BLAKE3Sum(data),
			Data:   data,
		}}, nil
	}
	desired := chunker.DesiredChunkSize(packSize)
	c := chunker.New(desired, chunker.WithData())
	return c.Split(bytes.NewReader(data))
}
