// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/zorigami-engine/zorigami/keys"
)

// Magic identifies a sealed pack file. Four bytes, chosen to be
// unlikely to collide with common archive/container magics while
// still reading as a nod to the project name.
var Magic = [4]byte{'C', '4', 'P', 'X'}

// VersionCurrent is the only envelope version this package writes.
// VersionLegacy is read-only, for repositories migrated from an
// older single-key AES-CTR+HMAC construction (§4.B Open Questions).
const (
	VersionCurrent uint32 = 1
	VersionLegacy  uint32 = 0
)

// ErrBadMagic is returned when a file does not start with Magic.
var ErrBadMagic = fmt.Errorf("pack: bad magic header")

// ErrAuthFailed is returned when the envelope's MAC does not verify —
// tampering, corruption, or the wrong master keys.
var ErrAuthFailed = fmt.Errorf("pack: envelope authentication failed")

// wrappedKeySize is 16-byte nonce ‖ 32-byte AES-CTR-wrapped data key.
const wrappedKeySize = 48

// headerSize is the fixed-size prefix before the ciphertext body:
// masterNonce(16) ‖ wrappedKey(48) ‖ tag(32) = 96 bytes, matching
// §6's "N-(96) bytes ciphertext body".
const headerSize = 16 + wrappedKeySize + 32

// Seal compresses body with method, encrypts it under a fresh
// per-pack data key wrapped by mk.Wrap, and authenticates the whole
// envelope with mk.Mac. The leading byte of the encrypted plaintext
// records method so Open needs no side-channel to decompress.
func Seal(mk keys.MasterKeys, method Method, container []byte) ([]byte, error) {
	compressed, err := Compress(container, method)
	if err != nil {
		return nil, err
	}
	plaintext := append([]byte{byte(method)}, compressed...)

	dataKey := make([]byte, 32)
	if _, err := rand.Read(dataKey); err != nil {
		return nil, err
	}
	masterNonce := make([]byte, 16)
	if _, err := rand.Read(masterNonce); err != nil {
		return nil, err
	}
	wrapNonce := make([]byte, 16)
	if _, err := rand.Read(wrapNonce); err != nil {
		return nil, err
	}

	wrappedKey, err := wrapKey(mk.Wrap, wrapNonce, dataKey)
	if err != nil {
		return nil, err
	}

	ciphertext, err := sealBody(dataKey, masterNonce, plaintext)
	if err != nil {
		return nil, err
	}

	tag := envelopeTag(mk.Mac, masterNonce, wrappedKey, ciphertext)

	out := make([]byte, 0, 4+4+headerSize+len(ciphertext))
	out = append(out, Magic[:]...)
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], VersionCurrent)
	out = append(out, verBuf[:]...)
	out = append(out, masterNonce...)
	out = append(out, wrappedKey...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// Open verifies and decrypts a pack sealed by Seal, returning the
// original (uncompressed) container bytes.
func Open(mk keys.MasterKeys, raw []byte) ([]byte, error) {
	if len(raw) < 8 || [4]byte(raw[:4]) != Magic {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	rest := raw[8:]

	switch version {
	case VersionCurrent:
		return openCurrent(mk, rest)
	case VersionLegacy:
		return openLegacy(mk, rest)
	default:
		return nil, fmt.Errorf("pack: unsupported envelope version %d", version)
	}
}

func openCurrent(mk keys.MasterKeys, rest []byte) ([]byte, error) {
	if len(rest) < headerSize {
		return nil, fmt.Errorf("pack: truncated envelope header")
	}
	masterNonce := rest[:16]
	wrappedKey := rest[16 : 16+wrappedKeySize]
	tag := rest[16+wrappedKeySize : headerSize]
	ciphertext := rest[headerSize:]

	want := envelopeTag(mk.Mac, masterNonce, wrappedKey, ciphertext)
	if !keys.ConstantTimeEqual(tag, want) {
		return nil, ErrAuthFailed
	}

	dataKey, err := unwrapKey(mk.Wrap, wrappedKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := openBody(dataKey, masterNonce, ciphertext)
	if err != nil {
		return nil, ErrAuthFailed
	}
	if len(plaintext) < 1 {
		return nil, fmt.Errorf("pack: empty envelope plaintext")
	}
	method := Method(plaintext[0])
	return Decompress(plaintext[1:], method)
}

// wrapKey encrypts a 32-byte data key under K_wrap using AES-256-CTR.
// No AEAD tag is attached here: the outer envelope tag authenticates
// masterNonce‖wrappedKey‖ciphertext as a whole, so the key-wrap layer
// only needs confidentiality.
func wrapKey(wrapKey [32]byte, nonce, dataKey []byte) ([]byte, error) {
	block, err := aes.NewCipher(wrapKey[:])
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, ctrIV(nonce))
	out := make([]byte, len(dataKey))
	stream.XORKeyStream(out, dataKey)
	return append(append([]byte{}, nonce...), out...), nil
}

func unwrapKey(wrapKey [32]byte, wrapped []byte) ([]byte, error) {
	if len(wrapped) != wrappedKeySize {
		return nil, fmt.Errorf("pack: wrapped key has wrong length %d", len(wrapped))
	}
	nonce, ciphertext := wrapped[:16], wrapped[16:]
	block, err := aes.NewCipher(wrapKey[:])
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, ctrIV(nonce))
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}

// ctrIV expands a 16-byte nonce into the 16-byte IV crypto/cipher's
// CTR mode expects (AES block size); since our nonces are already
// block-sized this is just a defensive length check.
func ctrIV(nonce []byte) []byte {
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	return iv
}

// sealBody runs AES-256-GCM with a 16-byte nonce (rather than the
// default 12) so masterNonce can double as both the body's AEAD nonce
// and half of what the envelope tag authenticates.
func sealBody(dataKey, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := gcm16(dataKey)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func openBody(dataKey, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := gcm16(dataKey)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func gcm16(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, 16)
}

func envelopeTag(macKey [32]byte, masterNonce, wrappedKey, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey[:])
	mac.Write(masterNonce)
	mac.Write(wrappedKey)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}
