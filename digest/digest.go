// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package digest implements the content-addressing scheme used
// throughout zorigami: digests are strings of the form
// "<algo>-<hex>" (blake3-…, sha1-…, sha256-…), never raw bytes, so
// they can be used directly as metadata repository keys.
package digest

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algo identifies a digest algorithm.
type Algo string

const (
	BLAKE3 Algo = "blake3"
	SHA1   Algo = "sha1"
	SHA256 Algo = "sha256"
)

// ErrMalformed is returned when a digest string doesn't parse as
// "<algo>-<hex>".
var ErrMalformed = errors.New("digest: malformed digest string")

// Digest is a content digest in canonical "<algo>-<hex>" form.
type Digest string

// New builds a Digest from an algorithm and raw hash bytes.
func New(algo Algo, sum []byte) Digest {
	return Digest(string(algo) + "-" + hex.EncodeToString(sum))
}

// Parse validates and splits a digest string into its algorithm and
// hex-encoded sum. It does not validate the hex length against the
// algorithm's expected output size — callers that care should compare
// len(Parse(d).Sum).
func Parse(s string) (Algo, []byte, error) {
	idx := strings.IndexByte(s, '-')
	if idx <= 0 || idx == len(s)-1 {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	algo := Algo(s[:idx])
	sum, err := hex.DecodeString(s[idx+1:])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	return algo, sum, nil
}

// Algo returns the digest's algorithm tag, or "" if malformed.
func (d Digest) Algo() Algo {
	algo, _, err := Parse(string(d))
	if err != nil {
		return ""
	}
	return algo
}

// Valid reports whether d parses as "<algo>-<hex>".
func (d Digest) Valid() bool {
	_, _, err := Parse(string(d))
	return err == nil
}

func (d Digest) String() string { return string(d) }

// BLAKE3Sum hashes data with BLAKE3-256 and returns the canonical
// digest. This is the content hash used for files, chunks, and packs
// per §3/§4.A of the spec.
func BLAKE3Sum(data []byte) Digest {
	sum := blake3.Sum256(data)
	return New(BLAKE3, sum[:])
}

// SHA1Sum hashes data with SHA-1 and returns the canonical digest.
// SHA-1 is used only for Tree/Snapshot/Xattr keys — short and
// deterministic, never relied upon for security (§4.A).
func SHA1Sum(data []byte) Digest {
	sum := sha1.Sum(data)
	return New(SHA1, sum[:])
}

// SHA256Sum hashes data with SHA-256 and returns the canonical
// digest under the sha256 algorithm tag.
func SHA256Sum(data []byte) Digest {
	sum := sha256.Sum256(data)
	return New(SHA256, sum[:])
}

// BLAKE3Reader hashes an entire stream with BLAKE3-256.
func BLAKE3Reader(r io.Reader) (Digest, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return New(BLAKE3, h.Sum(nil)), nil
}

// NewBLAKE3Hasher returns a streaming BLAKE3 hash.Hash for callers
// that need to hash incrementally (e.g. the scanner's file hashing).
func NewBLAKE3Hasher() hash.Hash {
	return blake3.New()
}
