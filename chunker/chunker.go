// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package chunker implements FastCDC content-defined chunking (§4.A).
//
// Given a target average chunk size A, Chunker yields an ordered
// sequence of (offset, length, hash) triples such that boundaries are
// determined by a rolling gear hash of a sliding window, honouring
// min = A/2 and max = 2*A. Small inputs (< A) are returned as a
// single chunk without running the rolling hash at all.
package chunker

import (
	"bufio"
	"io"

	"github.com/zorigami-engine/zorigami/digest"
)

// Chunk describes one content-defined chunk of a larger stream.
type Chunk struct {
	Offset uint64
	Length uint32
	Hash   digest.Digest
	Data   []byte // only populated when the caller asks for it, see WithData
}

// normalization controls how aggressively FastCDC biases the mask
// toward the average size as the chunk grows past it ("normalized
// chunking", level 2 in the FastCDC paper: harder to cut below the
// average size, easier to cut at or above it, which tightens the size
// distribution around A).
const normalization = 2

// Chunker splits a byte stream into content-defined chunks.
type Chunker struct {
	avg, min, max uint32
	maskSmall     uint64 // harder-to-satisfy mask (more bits), used below avg
	maskLarge     uint64 // easier-to-satisfy mask (fewer bits), used at/above avg
	withData      bool
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithData retains each chunk's raw bytes in the returned Chunk. By
// default only offset/length/hash are populated, matching how the
// scanner only needs hashes until a pack is actually built.
func WithData() Option {
	return func(c *Chunker) { c.withData = true }
}

// New creates a Chunker targeting an average chunk size of avgSize
// bytes. Per §4.A, min = avgSize/2 and max = 2*avgSize.
func New(avgSize uint32, opts ...Option) *Chunker {
	if avgSize == 0 {
		avgSize = 1 << 20 // 1 MiB default
	}
	c := &Chunker{
		avg: avgSize,
		min: avgSize / 2,
		max: avgSize * 2,
	}
	// bits such that 2^bits ~= avgSize; the mask keeps that many low
	// bits of the rolling hash significant when testing for a cut.
	bits := uint(0)
	for v := avgSize; v > 1; v >>= 1 {
		bits++
	}
	if bits > normalization {
		c.maskSmall = (1 << (bits + normalization)) - 1
		c.maskLarge = (1 << (bits - normalization)) - 1
	} else {
		c.maskSmall = (1 << (bits + normalization)) - 1
		c.maskLarge = (1 << bits) - 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Split reads all of r and returns its content-defined chunks. The
// concatenation of chunk bytes (read again from the source by the
// caller, or retained via WithData) equals the original stream, and
// each chunk's Offset is the prefix-sum of preceding Lengths — the
// invariant §8.1 requires.
func (c *Chunker) Split(r io.Reader) ([]Chunk, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	// Peek whether the whole stream fits under one chunk's worth of
	// data before committing to the rolling-hash path; small inputs
	// skip chunking entirely per §4.A.
	buf := make([]byte, 0, c.max)
	tmp := make([]byte, 64*1024)
	for uint32(len(buf)) < c.avg {
		n, err := br.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if uint32(len(buf)) < c.avg {
		// Entire stream read and it is smaller than the target
		// average: return as a single chunk, no CDC needed.
		return []Chunk{c.makeChunk(0, buf)}, nil
	}

	// Otherwise continue reading the rest of the stream and run the
	// rolling cut-point search over the full buffer. Zorigami bounds
	// dataset file sizes in practice via the backup driver's pack-size
	// accounting, so buffering the remainder is acceptable here; very
	// large single files still chunk correctly, just with higher peak
	// memory, which is the same tradeoff the teacher's whole-file
	// hashFile makes for the no-CDC path.
	rest, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	buf = append(buf, rest...)

	var chunks []Chunk
	var offset uint64
	for len(buf) > 0 {
		if uint32(len(buf)) <= c.max {
			chunks = append(chunks, c.makeChunk(offset, buf))
			break
		}
		cut := c.findCut(buf)
		chunks = append(chunks, c.makeChunk(offset, buf[:cut]))
		offset += uint64(cut)
		buf = buf[cut:]
	}
	return chunks, nil
}

// findCut returns the length of the next chunk within data, which
// must be longer than c.max.
func (c *Chunker) findCut(data []byte) int {
	var hash uint64
	i := int(c.min)
	for ; i < len(data) && uint32(i) < c.max; i++ {
		hash = (hash << 1) + gearTable[data[i]]
		mask := c.maskLarge
		if uint32(i) < c.avg {
			mask = c.maskSmall
		}
		if hash&mask == 0 {
			return i + 1
		}
	}
	return int(c.max)
}

func (c *Chunker) makeChunk(offset uint64, data []byte) Chunk {
	ch := Chunk{
		Offset: offset,
		Length: uint32(len(data)),
		Hash:   digest.BLAKE3Sum(data),
	}
	if c.withData {
		ch.Data = append([]byte(nil), data...)
	}
	return ch
}

// MaxChunkSize caps per-chunk size regardless of target average, per
// §4.F step 4's "capped at an implementation-defined MAX_CHUNK_SIZE".
const MaxChunkSize = 4 << 20 // 4 MiB

// DesiredChunkSize computes the CDC target for a file given the
// dataset's configured pack size, per §4.F step 4: "desired chunk
// size ≈ pack size / 4, capped at MAX_CHUNK_SIZE".
func DesiredChunkSize(packSize uint64) uint32 {
	size := packSize / 4
	if size > MaxChunkSize {
		return MaxChunkSize
	}
	if size == 0 {
		return MaxChunkSize
	}
	return uint32(size)
}
