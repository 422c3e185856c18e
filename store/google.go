// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Google drives Google Cloud Storage; "bucket" and "object" map
// directly onto GCS's own naming.
type Google struct {
	client *storage.Client
	logger *slog.Logger
}

// NewGoogle wraps an already-configured storage.Client.
func NewGoogle(client *storage.Client, logger *slog.Logger) *Google {
	if logger == nil {
		logger = slog.Default()
	}
	return &Google{client: client, logger: logger}
}

func (g *Google) Put(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, g.logger, "put", func(ctx context.Context) error {
		f, err := os.Open(localPath)
		if err != nil {
			return zerr.Wrap(zerr.NotFound, "", err)
		}
		defer f.Close()

		w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
		if _, err := io.Copy(w, f); err != nil {
			w.Close()
			return classifyGoogle(err)
		}
		return classifyGoogle(w.Close())
	})
}

func (g *Google) Get(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, g.logger, "get", func(ctx context.Context) error {
		r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return classifyGoogle(err)
		}
		defer r.Close()

		f, err := os.Create(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, r)
		return err
	})
}

func (g *Google) ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return classifyGoogle(err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (g *Google) ListBuckets(ctx context.Context, fn func(bucket string) error) error {
	it := g.client.Buckets(ctx, "")
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return classifyGoogle(err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (g *Google) Delete(ctx context.Context, bucket, object string) error {
	err := g.client.Bucket(bucket).Object(object).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return classifyGoogle(err)
}

func (g *Google) DeleteBucket(ctx context.Context, bucket string) error {
	return classifyGoogle(g.client.Bucket(bucket).Delete(ctx))
}

func (g *Google) TestConnection(ctx context.Context) error {
	_, err := g.client.Bucket("").Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return nil
	}
	return classifyGoogle(err)
}

func classifyGoogle(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return zerr.Wrap(zerr.NotFound, zerr.CodeFileNotFound, err)
	}
	if IsTransient(err) {
		return zerr.Wrap(zerr.Transient, "", err)
	}
	return fmt.Errorf("store/google: %w", err)
}
