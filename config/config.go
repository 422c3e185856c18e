// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package config loads repository-wide runtime configuration from the
// environment (§6), mirroring the gateway's own Load()/validate()
// convention.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures everything the engine needs at start-up that isn't
// already persisted in the Configuration metadata record.
type Config struct {
	// RepositoryPath is the root directory holding the metadata
	// database and per-dataset workspaces. Required.
	RepositoryPath string

	// Passphrase unlocks the repository's master keys. It is read only
	// from PASSPHRASE (the environment or a .env file) and may be empty
	// here; no OS keystore is consulted.
	Passphrase string

	// Workspace overrides the default per-dataset scratch directory
	// (default: os.TempDir()/zorigami).
	Workspace string
}

const defaultWorkspaceSuffix = "zorigami"

// Load reads configuration from the environment plus the repository
// path the caller passes in (zorigamid takes it from its -repo flag),
// validating required fields so start-up fails fast.
func Load(repositoryPath string) (Config, error) {
	_ = godotenv.Load(".env", "../.env", "../../.env")

	cfg := Config{
		RepositoryPath: strings.TrimSpace(repositoryPath),
		Passphrase:     os.Getenv("PASSPHRASE"),
		Workspace:      firstNonEmpty(os.Getenv("WORKSPACE"), filepath.Join(os.TempDir(), defaultWorkspaceSuffix)),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	abs, err := filepath.Abs(cfg.RepositoryPath)
	if err != nil {
		return Config{}, fmt.Errorf("config: resolve repository path: %w", err)
	}
	cfg.RepositoryPath = abs
	return cfg, nil
}

func (c Config) validate() error {
	if c.RepositoryPath == "" {
		return errors.New("config: repository path is required")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
