// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import "github.com/zorigami-engine/zorigami/keys"

const configurationKey = "singleton"

// Configuration is the repository singleton (§3): host/user identity,
// a generation counter (stored as given; PutConfiguration does not
// change it), and the wrapped master-key material produced by the keys
// package.
type Configuration struct {
	Hostname        string         `msgpack:"1"`
	Username        string         `msgpack:"2"`
	ComputerUUID    string         `msgpack:"3"`
	Generation      uint64         `msgpack:"4"`
	WrappedKeys     []byte         `msgpack:"5,omitempty"`
	KDFParams       keys.KDFParams `msgpack:"6,omitempty"`
}

// GetConfiguration returns the singleton Configuration record, or
// (zero, false, nil) if the repository has never been initialised.
func (d *DB) GetConfiguration() (Configuration, bool, error) {
	raw, ok, err := d.get(bucketConfiguration, configurationKey)
	if err != nil || !ok {
		return Configuration{}, ok, err
	}
	var cfg Configuration
	if err := decode(raw, &cfg); err != nil {
		return Configuration{}, false, err
	}
	return cfg, true, nil
}

// PutConfiguration overwrites the singleton Configuration record.
// Configuration is mutable (§3), so this is an unconditional put, not
// a content-keyed idempotent insert.
func (d *DB) PutConfiguration(cfg Configuration) error {
	raw, err := encode(cfg)
	if err != nil {
		return err
	}
	return d.put(bucketConfiguration, configurationKey, raw)
}
