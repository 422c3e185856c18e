// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"testing"

	"github.com/zorigami-engine/zorigami/config"
	"github.com/zorigami-engine/zorigami/keys"
	"github.com/zorigami-engine/zorigami/metadata"
)

func TestResolveMasterKeysInitializesThenUnwraps(t *testing.T) {
	db, err := metadata.Open(filepath.Join(t.TempDir(), "zorigami.db"))
	if err != nil {
		t.Fatalf("metadata.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{RepositoryPath: t.TempDir(), Passphrase: "correct horse battery staple"}

	mk1, err := resolveMasterKeys(db, cfg)
	if err != nil {
		t.Fatalf("resolveMasterKeys (init): %v", err)
	}

	mk2, err := resolveMasterKeys(db, cfg)
	if err != nil {
		t.Fatalf("resolveMasterKeys (existing): %v", err)
	}
	if mk1.Wrap != mk2.Wrap || mk1.Mac != mk2.Mac {
		t.Fatal("resolveMasterKeys returned different keys across calls against the same repository")
	}
}

func TestResolveMasterKeysWrongPassphraseFails(t *testing.T) {
	db, err := metadata.Open(filepath.Join(t.TempDir(), "zorigami.db"))
	if err != nil {
		t.Fatalf("metadata.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{RepositoryPath: t.TempDir(), Passphrase: "right passphrase"}
	if _, err := resolveMasterKeys(db, cfg); err != nil {
		t.Fatalf("resolveMasterKeys (init): %v", err)
	}

	wrong := cfg
	wrong.Passphrase = "wrong passphrase"
	_, err = resolveMasterKeys(db, wrong)
	if err == nil {
		t.Fatal("resolveMasterKeys with the wrong passphrase succeeded")
	}
	if err != keys.ErrAuthFailed {
		t.Errorf("error = %v, want keys.ErrAuthFailed", err)
	}
}
