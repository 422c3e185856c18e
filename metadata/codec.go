// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// encode marshals v with sorted map keys so that two in-memory
// representations of the same logical record always produce the same
// bytes — required wherever a record's stored payload feeds a
// content-addressed digest (§4.D: "canonical serialisation required
// for reproducibility of digests that incorporate any stored field").
func encode(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
