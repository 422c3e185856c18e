// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"google.golang.org/api/option"

	"github.com/zorigami-engine/zorigami/metadata"
	"github.com/zorigami-engine/zorigami/store"
)

// buildStore dials whatever backend rec.Kind names and wraps it in
// the matching store.Port, using rec.Options as the backend's
// connection parameters. Every non-local, non-memory store.Port
// constructor takes an already-built SDK client rather than building
// one itself (§4.C), so this is where that client gets built.
func buildStore(ctx context.Context, rec metadata.StoreRecord, logger *slog.Logger) (store.Port, error) {
	switch rec.Kind {
	case metadata.StoreKindLocal:
		return store.NewLocal(rec.Options["path"], logger)
	case metadata.StoreKindSFTP:
		return buildSFTP(rec, logger)
	case metadata.StoreKindAmazon:
		return buildAmazon(ctx, rec, logger)
	case metadata.StoreKindMinio:
		return buildMinio(rec, logger)
	case metadata.StoreKindAzure:
		return buildAzure(rec, logger)
	case metadata.StoreKindGoogle:
		return buildGoogle(ctx, rec, logger)
	default:
		return nil, fmt.Errorf("zorigamid: store %s has unsupported kind %q", rec.ID, rec.Kind)
	}
}

func buildSFTP(rec metadata.StoreRecord, logger *slog.Logger) (store.Port, error) {
	opts := rec.Options
	addr := opts["host"]
	if opts["port"] != "" {
		addr += ":" + opts["port"]
	} else {
		addr += ":22"
	}

	sshConfig := &ssh.ClientConfig{
		User: opts["user"],
		Auth: []ssh.AuthMethod{ssh.Password(opts["password"])},
		// TODO: pin host keys via a known_hosts path option instead of
		// trusting whatever key the server presents.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	conn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("zorigamid: dial sftp %s: %w", addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("zorigamid: sftp handshake with %s: %w", addr, err)
	}
	return store.NewSFTP(client, opts["root"], logger)
}

func buildAmazon(ctx context.Context, rec metadata.StoreRecord, logger *slog.Logger) (store.Port, error) {
	opts := rec.Options
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts["region"] != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts["region"]))
	}
	if opts["access_key"] != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts["access_key"], opts["secret_key"], "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("zorigamid: load aws config for store %s: %w", rec.ID, err)
	}
	endpoint := opts["endpoint"]
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})
	return store.NewAmazon(client, opts["region"], logger), nil
}

func buildMinio(rec metadata.StoreRecord, logger *slog.Logger) (store.Port, error) {
	opts := rec.Options
	client, err := minio.New(opts["endpoint"], &minio.Options{
		Creds:  miniocreds.NewStaticV4(opts["access_key"], opts["secret_key"], ""),
		Secure: opts["use_ssl"] == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("zorigamid: minio client for store %s: %w", rec.ID, err)
	}
	return store.NewMinio(client, logger), nil
}

func buildAzure(rec metadata.StoreRecord, logger *slog.Logger) (store.Port, error) {
	opts := rec.Options
	if cs := opts["connection_string"]; cs != "" {
		client, err := azblob.NewClientFromConnectionString(cs, nil)
		if err != nil {
			return nil, fmt.Errorf("zorigamid: azure client for store %s: %w", rec.ID, err)
		}
		return store.NewAzure(client, logger), nil
	}

	cred, err := azblob.NewSharedKeyCredential(opts["account"], opts["account_key"])
	if err != nil {
		return nil, fmt.Errorf("zorigamid: azure shared key credential for store %s: %w", rec.ID, err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(opts["service_url"], cred, nil)
	if err != nil {
		return nil, fmt.Errorf("zorigamid: azure client for store %s: %w", rec.ID, err)
	}
	return store.NewAzure(client, logger), nil
}

func buildGoogle(ctx context.Context, rec metadata.StoreRecord, logger *slog.Logger) (store.Port, error) {
	var opts []option.ClientOption
	if path := rec.Options["credentials_file"]; path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("zorigamid: gcs client for store %s: %w", rec.ID, err)
	}
	return store.NewGoogle(client, logger), nil
}

// buildStores resolves every StoreRecord the repository knows about
// into a live store.Port, keyed by StoreRecord.ID so Dataset.StoreKeys
// can look them up directly.
func buildStores(ctx context.Context, db *metadata.DB, logger *slog.Logger) (map[string]store.Port, error) {
	records, err := db.ListStores()
	if err != nil {
		return nil, fmt.Errorf("zorigamid: list stores: %w", err)
	}
	ports := make(map[string]store.Port, len(records))
	for _, rec := range records {
		port, err := buildStore(ctx, rec, logger)
		if err != nil {
			return nil, err
		}
		ports[rec.ID] = port
	}
	return ports, nil
}
