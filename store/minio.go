// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Minio drives any S3-compatible endpoint via the minio-go client —
// the common choice for self-hosted or on-prem object storage.
type Minio struct {
	client *minio.Client
	logger *slog.Logger
}

// NewMinio wraps an already-configured minio.Client.
func NewMinio(client *minio.Client, logger *slog.Logger) *Minio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Minio{client: client, logger: logger}
}

func (m *Minio) Put(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, m.logger, "put", func(ctx context.Context) error {
		exists, err := m.client.BucketExists(ctx, bucket)
		if err != nil {
			return classifyMinio(err)
		}
		if !exists {
			if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return classifyMinio(err)
			}
		}
		_, err = m.client.FPutObject(ctx, bucket, object, localPath, minio.PutObjectOptions{})
		return classifyMinio(err)
	})
}

func (m *Minio) Get(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, m.logger, "get", func(ctx context.Context) error {
		err := m.client.FGetObject(ctx, bucket, object, localPath, minio.GetObjectOptions{})
		return classifyMinio(err)
	})
}

func (m *Minio) ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error {
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return classifyMinio(obj.Err)
		}
		if err := fn(obj.Key); err != nil {
			return err
		}
	}
	return nil
}

func (m *Minio) ListBuckets(ctx context.Context, fn func(bucket string) error) error {
	buckets, err := m.client.ListBuckets(ctx)
	if err != nil {
		return classifyMinio(err)
	}
	for _, b := range buckets {
		if err := fn(b.Name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Minio) Delete(ctx context.Context, bucket, object string) error {
	err := m.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
	return classifyMinio(err)
}

func (m *Minio) DeleteBucket(ctx context.Context, bucket string) error {
	err := m.client.RemoveBucket(ctx, bucket)
	return classifyMinio(err)
}

func (m *Minio) TestConnection(ctx context.Context) error {
	_, err := m.client.ListBuckets(ctx)
	return classifyMinio(err)
}

func classifyMinio(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return zerr.Wrap(zerr.NotFound, zerr.CodeFileNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return zerr.Wrap(zerr.Unauthorized, "", err)
	}
	if IsTransient(err) {
		return zerr.Wrap(zerr.Transient, "", err)
	}
	return fmt.Errorf("store/minio: %w", err)
}
