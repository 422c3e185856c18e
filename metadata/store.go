// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import "fmt"

// StoreKind enumerates the supported object-store backends (§3).
type StoreKind string

const (
	StoreKindLocal  StoreKind = "local"
	StoreKindSFTP   StoreKind = "sftp"
	StoreKindMinio  StoreKind = "minio"
	StoreKindAmazon StoreKind = "amazon"
	StoreKindAzure  StoreKind = "azure"
	StoreKindGoogle StoreKind = "google"
)

// StoreRecord is keyed by a ULID (§3). Options is an opaque map
// specific to Kind (e.g. endpoint, region, key path); coordinates
// (bucket/object) live on the Pack record instead, so renaming or
// reconfiguring a store never orphans already-uploaded data.
type StoreRecord struct {
	ID      string            `msgpack:"1"`
	Kind    StoreKind         `msgpack:"2"`
	Label   string            `msgpack:"3"`
	Options map[string]string `msgpack:"4,omitempty"`
}

func storeKey(id string) string { return bucketStore + "/" + id }

// PutStore validates and stores s, keyed by s.ID.
func (d *DB) PutStore(s StoreRecord) error {
	if s.ID == "" {
		return fmt.Errorf("metadata: store ID is required")
	}
	switch s.Kind {
	case StoreKindLocal, StoreKindSFTP, StoreKindMinio, StoreKindAmazon, StoreKindAzure, StoreKindGoogle:
	default:
		return fmt.Errorf("metadata: store %s has unknown kind %q", s.ID, s.Kind)
	}
	raw, err := encode(s)
	if err != nil {
		return err
	}
	return d.put(bucketStore, storeKey(s.ID), raw)
}

// GetStore fetches a StoreRecord by ID.
func (d *DB) GetStore(id string) (StoreRecord, bool, error) {
	raw, ok, err := d.get(bucketStore, storeKey(id))
	if err != nil || !ok {
		return StoreRecord{}, ok, err
	}
	var s StoreRecord
	if err := decode(raw, &s); err != nil {
		return StoreRecord{}, false, err
	}
	return s, true, nil
}

// ListStores returns every StoreRecord, in key order.
func (d *DB) ListStores() ([]StoreRecord, error) {
	var out []StoreRecord
	err := d.scanPrefix(bucketStore, bucketStore+"/", func(_ string, v []byte) (bool, error) {
		var s StoreRecord
		if err := decode(v, &s); err != nil {
			return false, err
		}
		out = append(out, s)
		return true, nil
	})
	return out, err
}

// DeleteStore removes a StoreRecord.
func (d *DB) DeleteStore(id string) error {
	return d.delete(bucketStore, storeKey(id))
}
