// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Method selects how a container's bytes are compressed before
// encryption. It is stored as the leading byte of the envelope's
// plaintext body, so decoders never need out-of-band knowledge of
// which method a given pack used.
type Method byte

const (
	MethodNone Method = iota
	MethodZstd
	MethodGzip
)

// Compress encodes data with the given method. MethodNone returns
// data unchanged.
func Compress(data []byte, method Method) ([]byte, error) {
	switch method {
	case MethodNone:
		return data, nil
	case MethodZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("pack: zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case MethodGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("pack: gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("pack: gzip close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("pack: unknown compression method %d", method)
	}
}

// Decompress reverses Compress.
func Decompress(data []byte, method Method) ([]byte, error) {
	switch method {
	case MethodNone:
		return data, nil
	case MethodZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("pack: zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("pack: zstd decode: %w", err)
		}
		return out, nil
	case MethodGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("pack: gzip reader: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("pack: gzip read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("pack: unknown compression method %d", method)
	}
}

// PickMethod compresses data with preferred, falling back to gzip if
// the preferred codec is unavailable, and finally to no compression
// if the result would not actually be smaller (common for packs whose
// chunks are already high-entropy, e.g. previously-compressed media).
func PickMethod(data []byte, preferred Method) (Method, []byte, error) {
	out, err := Compress(data, preferred)
	if err != nil && preferred != MethodGzip {
		preferred = MethodGzip
		out, err = Compress(data, preferred)
	}
	if err != nil {
		return MethodNone, data, err
	}
	if len(out) >= len(data) {
		return MethodNone, data, nil
	}
	return preferred, out, nil
}
