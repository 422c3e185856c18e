// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/zorigami-engine/zorigami/keys"
)

// openLegacy decodes a version-0 envelope: a single-key AES-256-CTR
// stream cipher with a separate HMAC-SHA256 tag, predating the
// two-master-key wrap construction. Repositories that migrated to the
// current format keep this path read-only so old packs never need
// re-encryption (§4.B Open Questions: "legacy formats ... must be
// readable if compatibility is claimed"). The legacy key is mk.Wrap —
// migration copies the single original key into that slot and leaves
// mk.Mac unset for any pack still on disk in this format.
func openLegacy(mk keys.MasterKeys, rest []byte) ([]byte, error) {
	const legacyNonceSize = 16
	const legacyTagSize = 32
	if len(rest) < legacyNonceSize+legacyTagSize {
		return nil, fmt.Errorf("pack: truncated legacy envelope")
	}
	nonce := rest[:legacyNonceSize]
	tag := rest[legacyNonceSize : legacyNonceSize+legacyTagSize]
	ciphertext := rest[legacyNonceSize+legacyTagSize:]

	mac := hmac.New(sha256.New, mk.Wrap[:])
	mac.Write(nonce)
	mac.Write(ciphertext)
	want := mac.Sum(nil)
	if !keys.ConstantTimeEqual(tag, want) {
		return nil, ErrAuthFailed
	}

	block, err := aes.NewCipher(mk.Wrap[:])
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, ctrIV(nonce))
	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)

	if len(plaintext) < 1 {
		return nil, fmt.Errorf("pack: empty legacy plaintext")
	}
	method := Method(plaintext[0])
	return Decompress(plaintext[1:], method)
}
