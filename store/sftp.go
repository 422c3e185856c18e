// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/pkg/sftp"

	"github.com/zorigami-engine/zorigami/zerr"
)

// SFTP drives a plain SFTP endpoint; "bucket" is a subdirectory of
// Root on the remote host and "object" a file within it. The caller
// owns the underlying *sftp.Client's *ssh.Client (auth, host-key
// checking, keepalives); SFTP only issues file operations.
type SFTP struct {
	client *sftp.Client
	Root   string
	logger *slog.Logger
}

// NewSFTP wraps an already-dialed *sftp.Client rooted at root.
func NewSFTP(client *sftp.Client, root string, logger *slog.Logger) (*SFTP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := client.MkdirAll(root); err != nil {
		return nil, fmt.Errorf("store/sftp: create root %s: %w", root, err)
	}
	return &SFTP{client: client, Root: root, logger: logger}, nil
}

func (s *SFTP) bucketDir(bucket string) string { return path.Join(s.Root, bucket) }

func (s *SFTP) Put(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, s.logger, "put", func(ctx context.Context) error {
		dir := s.bucketDir(bucket)
		if err := s.client.MkdirAll(dir); err != nil {
			return fmt.Errorf("store/sftp: create bucket %s: %w", bucket, err)
		}
		src, err := os.Open(localPath)
		if err != nil {
			return zerr.Wrap(zerr.NotFound, "", err)
		}
		defer src.Close()

		dstPath := path.Join(dir, object)
		tmp := dstPath + ".tmp"
		dst, err := s.client.Create(tmp)
		if err != nil {
			return fmt.Errorf("store/sftp: create %s: %w", tmp, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			s.client.Remove(tmp)
			return classifySFTP(err)
		}
		if err := dst.Close(); err != nil {
			s.client.Remove(tmp)
			return classifySFTP(err)
		}
		// PosixRename overwrites an existing destination; plain Rename
		// does not on all servers.
		if err := s.client.PosixRename(tmp, dstPath); err != nil {
			return classifySFTP(err)
		}
		return nil
	})
}

func (s *SFTP) Get(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, s.logger, "get", func(ctx context.Context) error {
		srcPath := path.Join(s.bucketDir(bucket), object)
		src, err := s.client.Open(srcPath)
		if err != nil {
			return classifySFTP(err)
		}
		defer src.Close()

		if err := os.MkdirAll(parentDir(localPath), 0o755); err != nil {
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

func (s *SFTP) ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error {
	entries, err := s.client.ReadDir(s.bucketDir(bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return classifySFTP(err)
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

func (s *SFTP) ListBuckets(ctx context.Context, fn func(bucket string) error) error {
	entries, err := s.client.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return classifySFTP(err)
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

func (s *SFTP) Delete(ctx context.Context, bucket, object string) error {
	err := s.client.Remove(path.Join(s.bucketDir(bucket), object))
	if err != nil && !os.IsNotExist(err) {
		return classifySFTP(err)
	}
	return nil
}

func (s *SFTP) DeleteBucket(ctx context.Context, bucket string) error {
	dir := s.bucketDir(bucket)
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return classifySFTP(err)
	}
	for _, e := range entries {
		if err := s.client.Remove(path.Join(dir, e.Name())); err != nil {
			return classifySFTP(err)
		}
	}
	return classifySFTP(s.client.RemoveDirectory(dir))
}

func (s *SFTP) TestConnection(ctx context.Context) error {
	_, err := s.client.Getwd()
	return classifySFTP(err)
}

func parentDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}

func classifySFTP(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return zerr.Wrap(zerr.NotFound, zerr.CodeFileNotFound, err)
	}
	if os.IsPermission(err) {
		return zerr.Wrap(zerr.Unauthorized, "", err)
	}
	if IsTransient(err) {
		return zerr.Wrap(zerr.Transient, "", err)
	}
	return fmt.Errorf("store/sftp: %w", err)
}
