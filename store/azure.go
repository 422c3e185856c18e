// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Azure drives Azure Blob Storage; "bucket" maps to a container and
// "object" to a blob name.
type Azure struct {
	client *azblob.Client
	logger *slog.Logger
}

// NewAzure wraps an already-configured azblob.Client.
func NewAzure(client *azblob.Client, logger *slog.Logger) *Azure {
	if logger == nil {
		logger = slog.Default()
	}
	return &Azure{client: client, logger: logger}
}

func (a *Azure) Put(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, a.logger, "put", func(ctx context.Context) error {
		if _, err := a.client.CreateContainer(ctx, bucket, nil); err != nil && !isAlreadyExists(err) {
			return classifyAzure(err)
		}
		f, err := os.Open(localPath)
		if err != nil {
			return zerr.Wrap(zerr.NotFound, "", err)
		}
		defer f.Close()
		_, err = a.client.UploadFile(ctx, bucket, object, f, nil)
		return classifyAzure(err)
	})
}

func (a *Azure) Get(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, a.logger, "get", func(ctx context.Context) error {
		f, err := os.Create(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = a.client.DownloadFile(ctx, bucket, object, f, nil)
		return classifyAzure(err)
	})
}

func (a *Azure) ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error {
	pager := a.client.NewListBlobsFlatPager(bucket, &container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return classifyAzure(err)
		}
		for _, b := range page.Segment.BlobItems {
			if b.Name == nil {
				continue
			}
			if err := fn(*b.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Azure) ListBuckets(ctx context.Context, fn func(bucket string) error) error {
	pager := a.client.NewListContainersPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return classifyAzure(err)
		}
		for _, c := range page.ContainerItems {
			if c.Name == nil {
				continue
			}
			if err := fn(*c.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Azure) Delete(ctx context.Context, bucket, object string) error {
	_, err := a.client.DeleteBlob(ctx, bucket, object, nil)
	if err != nil && contains(err.Error(), "BlobNotFound") {
		return nil
	}
	return classifyAzure(err)
}

func (a *Azure) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := a.client.DeleteContainer(ctx, bucket, nil)
	return classifyAzure(err)
}

func (a *Azure) TestConnection(ctx context.Context) error {
	pager := a.client.NewListContainersPager(&service.ListContainersOptions{})
	if pager.More() {
		_, err := pager.NextPage(ctx)
		return classifyAzure(err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && contains(err.Error(), "ContainerAlreadyExists")
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func classifyAzure(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case contains(msg, "BlobNotFound"), contains(msg, "ContainerNotFound"):
		return zerr.Wrap(zerr.NotFound, zerr.CodeFileNotFound, err)
	case contains(msg, "AuthenticationFailed"), contains(msg, "AuthorizationFailure"):
		return zerr.Wrap(zerr.Unauthorized, "", err)
	}
	if IsTransient(err) {
		return zerr.Wrap(zerr.Transient, "", err)
	}
	return fmt.Errorf("store/azure: %w", err)
}
