// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Local stores objects as files under a root directory, one
// subdirectory per bucket.
type Local struct {
	Root   string
	logger *slog.Logger
}

// NewLocal creates a Local driver rooted at dir, creating it if
// absent.
func NewLocal(dir string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root %s: %w", dir, err)
	}
	return &Local{Root: dir, logger: logger}, nil
}

func (l *Local) bucketDir(bucket string) string { return filepath.Join(l.Root, bucket) }

func (l *Local) Put(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, l.logger, "put", func(ctx context.Context) error {
		dir := l.bucketDir(bucket)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store/local: create bucket %s: %w", bucket, err)
		}
		src, err := os.Open(localPath)
		if err != nil {
			return zerr.Wrap(zerr.NotFound, "", err)
		}
		defer src.Close()

		dstPath := filepath.Join(dir, object)
		tmp := dstPath + ".tmp"
		dst, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("store/local: create %s: %w", tmp, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			os.Remove(tmp)
			return fmt.Errorf("store/local: copy to %s: %w", tmp, err)
		}
		if err := dst.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, dstPath)
	})
}

func (l *Local) Get(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, l.logger, "get", func(ctx context.Context) error {
		srcPath := filepath.Join(l.bucketDir(bucket), object)
		src, err := os.Open(srcPath)
		if err != nil {
			if os.IsNotExist(err) {
				return zerr.New(zerr.NotFound, zerr.CodeFileNotFound, srcPath)
			}
			return err
		}
		defer src.Close()

		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return err
		}
		dst, err := os.Create(localPath)
		if err != nil {
			return err
		}
		defer dst.Close()
		_, err = io.Copy(dst, src)
		return err
	})
}

func (l *Local) ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error {
	entries, err := os.ReadDir(l.bucketDir(bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) >= 4 && name[len(name)-4:] == ".tmp" {
			continue
		}
		if prefix != "" && !hasPrefix(name, prefix) {
			continue
		}
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) ListBuckets(ctx context.Context, fn func(bucket string) error) error {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := fn(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, bucket, object string) error {
	err := os.Remove(filepath.Join(l.bucketDir(bucket), object))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *Local) DeleteBucket(ctx context.Context, bucket string) error {
	err := os.RemoveAll(l.bucketDir(bucket))
	return err
}

func (l *Local) TestConnection(ctx context.Context) error {
	return os.MkdirAll(l.Root, 0o755)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
