// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Command zorigamid wires the engine's packages into a running
// supervisor: it opens the metadata repository, resolves the master
// keys and configured stores, and runs the scheduler and worker pools
// until asked to stop (§4.H). It is not a CLI framework — one flag
// names the repository, everything else comes from config.Load's
// environment conventions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/zorigami-engine/zorigami/backup"
	"github.com/zorigami-engine/zorigami/config"
	"github.com/zorigami-engine/zorigami/identity"
	"github.com/zorigami-engine/zorigami/keys"
	"github.com/zorigami-engine/zorigami/metadata"
	"github.com/zorigami-engine/zorigami/restore"
	"github.com/zorigami-engine/zorigami/supervisor"
)

func main() {
	repoFlag := flag.String("repo", "", "repository directory (required)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*repoFlag, logger); err != nil {
		logger.Error("zorigamid: fatal", "error", err)
		os.Exit(1)
	}
}

func run(repoPath string, logger *slog.Logger) error {
	cfg, err := config.Load(repoPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := metadata.Open(filepath.Join(cfg.RepositoryPath, "zorigami.db"))
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer db.Close()

	mk, err := resolveMasterKeys(db, cfg)
	if err != nil {
		return fmt.Errorf("resolve master keys: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stores, err := buildStores(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}

	bdrv := backup.New(db, mk, stores, logger)
	rdrv := restore.New(db, mk, stores, logger)
	sv := supervisor.New(db, bdrv, rdrv, logger)

	logger.Info("zorigamid: starting", "repository", cfg.RepositoryPath, "stores", len(stores))
	return sv.Run(ctx)
}

// resolveMasterKeys reads the repository's Configuration singleton.
// On a brand-new repository it generates and wraps a fresh master-key
// pair (§4.I: "at first repository use the engine generates two
// independent 32-byte master keys"); otherwise it re-derives the KEK
// from the configured passphrase and unwraps the persisted keys.
func resolveMasterKeys(db *metadata.DB, cfg config.Config) (keys.MasterKeys, error) {
	existing, ok, err := db.GetConfiguration()
	if err != nil {
		return keys.MasterKeys{}, err
	}
	if !ok {
		return initializeRepository(db, cfg)
	}

	kek, err := keys.DeriveKEK(cfg.Passphrase, existing.KDFParams)
	if err != nil {
		return keys.MasterKeys{}, err
	}
	mk, err := keys.UnwrapMasterKeys(kek, existing.WrappedKeys)
	if err != nil {
		return keys.MasterKeys{}, err
	}
	return mk, nil
}

func initializeRepository(db *metadata.DB, cfg config.Config) (keys.MasterKeys, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	username := firstNonEmpty(os.Getenv("USER"), os.Getenv("USERNAME"), "zorigami")

	mk, err := keys.Generate()
	if err != nil {
		return keys.MasterKeys{}, err
	}
	params := keys.DefaultArgon2idParams()
	kek, err := keys.DeriveKEK(cfg.Passphrase, params)
	if err != nil {
		return keys.MasterKeys{}, err
	}
	wrapped, err := keys.WrapMasterKeys(kek, mk)
	if err != nil {
		return keys.MasterKeys{}, err
	}

	computer := identity.ComputerUUID(hostname, username)
	newCfg := metadata.Configuration{
		Hostname:     hostname,
		Username:     username,
		ComputerUUID: computer.String(),
		Generation:   1,
		WrappedKeys:  wrapped,
		KDFParams:    params,
	}
	if err := db.PutConfiguration(newCfg); err != nil {
		return keys.MasterKeys{}, err
	}
	return mk, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
