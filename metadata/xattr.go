// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

func xattrKey(dig string) string { return bucketXattr + "/" + dig }

// PutXattr idempotently stores the raw bytes of an extended
// attribute's value, keyed by the SHA-1 of the value (§3).
func (d *DB) PutXattr(dig string, value []byte) error {
	return d.putIdempotent(bucketXattr, xattrKey(dig), value)
}

// GetXattr fetches the raw value for an xattr digest.
func (d *DB) GetXattr(dig string) ([]byte, bool, error) {
	return d.get(bucketXattr, xattrKey(dig))
}
