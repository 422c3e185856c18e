// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import "fmt"

// RetentionPolicy bounds how many snapshots of a dataset are kept
// once backup.ApplyRetention runs. A zero field keeps nothing from
// its tier; a policy whose fields are all zero keeps every snapshot.
type RetentionPolicy struct {
	KeepLast   int `msgpack:"1,omitempty"`
	KeepDaily  int `msgpack:"2,omitempty"`
	KeepWeekly int `msgpack:"3,omitempty"`
}

// Dataset is keyed by a ULID (§3).
type Dataset struct {
	ID                string          `msgpack:"1"`
	BasePath          string          `msgpack:"2"`
	IgnoreGlobs       []string        `msgpack:"3,omitempty"`
	PackSize          uint64          `msgpack:"4"`
	Schedules         []string        `msgpack:"5,omitempty"`
	StoreKeys         []string        `msgpack:"6"`
	RetentionPolicy   RetentionPolicy `msgpack:"7,omitempty"`
	LatestSnapshot    string          `msgpack:"8,omitempty"`
	RetainedSnapshots []string        `msgpack:"9,omitempty"`
}

const (
	// MinPackSize and MaxPackSize bound Dataset.PackSize per §3.
	MinPackSize     = 16 << 20
	MaxPackSize     = 256 << 20
	DefaultPackSize = 64 << 20
)

func datasetKey(id string) string { return bucketDataset + "/" + id }

// PutDataset validates and stores ds, keyed by ds.ID.
func (d *DB) PutDataset(ds Dataset) error {
	if ds.ID == "" {
		return fmt.Errorf("metadata: dataset ID is required")
	}
	if ds.PackSize == 0 {
		ds.PackSize = DefaultPackSize
	}
	if ds.PackSize < MinPackSize || ds.PackSize > MaxPackSize {
		return fmt.Errorf("metadata: dataset %s pack size %d out of range [%d, %d]", ds.ID, ds.PackSize, MinPackSize, MaxPackSize)
	}
	if len(ds.StoreKeys) == 0 {
		return fmt.Errorf("metadata: dataset %s must reference at least one store", ds.ID)
	}
	raw, err := encode(ds)
	if err != nil {
		return err
	}
	return d.put(bucketDataset, datasetKey(ds.ID), raw)
}

// GetDataset fetches a Dataset by ID.
func (d *DB) GetDataset(id string) (Dataset, bool, error) {
	raw, ok, err := d.get(bucketDataset, datasetKey(id))
	if err != nil || !ok {
		return Dataset{}, ok, err
	}
	var ds Dataset
	if err := decode(raw, &ds); err != nil {
		return Dataset{}, false, err
	}
	return ds, true, nil
}

// ListDatasets returns every Dataset record, in key order.
func (d *DB) ListDatasets() ([]Dataset, error) {
	var out []Dataset
	err := d.scanPrefix(bucketDataset, bucketDataset+"/", func(_ string, v []byte) (bool, error) {
		var ds Dataset
		if err := decode(v, &ds); err != nil {
			return false, err
		}
		out = append(out, ds)
		return true, nil
	})
	return out, err
}

// DeleteDataset removes a Dataset record. It does not touch any
// Snapshot/Tree/File/Chunk/Pack data the dataset produced.
func (d *DB) DeleteDataset(id string) error {
	return d.delete(bucketDataset, datasetKey(id))
}

// SetLatest records digest as dataset id's most recent finalised
// snapshot (§4.F step 8: "update the dataset's latest/<dataset-id>
// pointer").
func (d *DB) SetLatest(datasetID, digest string) error {
	return d.put(bucketLatest, bucketLatest+"/"+datasetID, []byte(digest))
}

// GetLatest returns the most recent finalised snapshot digest for a
// dataset, if any.
func (d *DB) GetLatest(datasetID string) (string, bool, error) {
	raw, ok, err := d.get(bucketLatest, bucketLatest+"/"+datasetID)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}
