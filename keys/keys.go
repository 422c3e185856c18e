// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package keys implements repository key management (§4.I):
// passphrase-derived KEK, and wrap/unwrap of the two 32-byte master
// keys (K_wrap, K_mac) that the pack codec uses.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"
)

// ErrAuthFailed is returned when unwrapping master keys fails its
// integrity check — wrong passphrase or corrupted blob.
var ErrAuthFailed = errors.New("keys: authentication failed unwrapping master keys")

// MasterKeys holds the repository's two independent 32-byte keys:
// K_wrap wraps per-pack data keys, K_mac keys the envelope MAC.
type MasterKeys struct {
	Wrap [32]byte
	Mac  [32]byte
}

// Generate creates a fresh pair of independent 32-byte master keys,
// performed once at first repository use per §4.I.
func Generate() (MasterKeys, error) {
	var mk MasterKeys
	if _, err := rand.Read(mk.Wrap[:]); err != nil {
		return MasterKeys{}, err
	}
	if _, err := rand.Read(mk.Mac[:]); err != nil {
		return MasterKeys{}, err
	}
	return mk, nil
}

// KDF identifies which memory-hard key-derivation function produced
// a KEK, so its cost parameters can be persisted alongside the salt
// in the Configuration record and replayed on unwrap (§4.I).
type KDF string

const (
	KDFScrypt   KDF = "scrypt"
	KDFArgon2id KDF = "argon2id"
)

// KDFParams are the persisted, non-secret parameters needed to
// re-derive the same KEK from the same passphrase.
type KDFParams struct {
	Algorithm KDF    `msgpack:"1"`
	Salt      []byte `msgpack:"2"`

	// scrypt
	N int `msgpack:"10,omitempty"`
	R int `msgpack:"11,omitempty"`
	P int `msgpack:"12,omitempty"`

	// argon2id
	Time    uint32 `msgpack:"20,omitempty"`
	Memory  uint32 `msgpack:"21,omitempty"`
	Threads uint8  `msgpack:"22,omitempty"`
}

// DefaultScryptParams returns conservative-but-practical scrypt cost
// parameters (N=2^15, r=8, p=1 — the libsodium-recommended interactive
// profile scaled for a desktop backup tool).
func DefaultScryptParams() KDFParams {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	return KDFParams{Algorithm: KDFScrypt, Salt: salt, N: 1 << 15, R: 8, P: 1}
}

// DefaultArgon2idParams returns the OWASP-recommended argon2id
// baseline (t=1, 64MiB, 4 threads).
func DefaultArgon2idParams() KDFParams {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	return KDFParams{Algorithm: KDFArgon2id, Salt: salt, Time: 1, Memory: 64 * 1024, Threads: 4}
}

// DeriveKEK runs the configured memory-hard KDF over passphrase and
// returns a 32-byte key-encryption key.
func DeriveKEK(passphrase string, p KDFParams) ([32]byte, error) {
	var kek [32]byte
	switch p.Algorithm {
	case KDFScrypt:
		n, r, pp := p.N, p.R, p.P
		if n == 0 {
			n = 1 << 15
		}
		if r == 0 {
			r = 8
		}
		if pp == 0 {
			pp = 1
		}
		out, err := scrypt.Key([]byte(passphrase), p.Salt, n, r, pp, 32)
		if err != nil {
			return kek, fmt.Errorf("scrypt: %w", err)
		}
		copy(kek[:], out)
	case KDFArgon2id:
		t, m, threads := p.Time, p.Memory, p.Threads
		if t == 0 {
			t = 1
		}
		if m == 0 {
			m = 64 * 1024
		}
		if threads == 0 {
			threads = 4
		}
		out := argon2.IDKey([]byte(passphrase), p.Salt, t, m, threads, 32)
		copy(kek[:], out)
	default:
		return kek, fmt.Errorf("keys: unknown KDF %q", p.Algorithm)
	}
	return kek, nil
}

// WrapMasterKeys encrypts mk under kek with AES-256-GCM and a fresh
// random nonce, returning nonce‖ciphertext for storage in the
// Configuration record.
func WrapMasterKeys(kek [32]byte, mk MasterKeys) ([]byte, error) {
	block, err := aes.NewCipher(kek[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	plaintext := append(append([]byte{}, mk.Wrap[:]...), mk.Mac[:]...)
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// UnwrapMasterKeys reverses WrapMasterKeys, rejecting on any MAC
// mismatch (wrong passphrase or corrupted blob) per §4.I.
func UnwrapMasterKeys(kek [32]byte, blob []byte) (MasterKeys, error) {
	block, err := aes.NewCipher(kek[:])
	if err != nil {
		return MasterKeys{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return MasterKeys{}, err
	}
	if len(blob) < gcm.NonceSize() {
		return MasterKeys{}, fmt.Errorf("%w: blob too short", ErrAuthFailed)
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return MasterKeys{}, ErrAuthFailed
	}
	if len(plaintext) != 64 {
		return MasterKeys{}, fmt.Errorf("%w: unexpected key material length %d", ErrAuthFailed, len(plaintext))
	}
	var mk MasterKeys
	copy(mk.Wrap[:], plaintext[:32])
	copy(mk.Mac[:], plaintext[32:64])
	return mk, nil
}

// ConstantTimeEqual reports whether a and b are byte-identical,
// without leaking timing information — used when comparing MAC tags.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
