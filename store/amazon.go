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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Amazon drives an S3 (or Glacier-backed S3) bucket set. Get issues a
// plain GetObject: for an object archived in a Glacier storage class
// it neither requests a restore nor waits for one, and returns the
// service's error. Put does not create a missing bucket.
type Amazon struct {
	client *s3.Client
	region string
	logger *slog.Logger
}

// NewAmazon wraps an already-configured S3 client (region, creds, and
// any Glacier-specific options are the caller's concern via the AWS
// SDK's own config loader).
func NewAmazon(client *s3.Client, region string, logger *slog.Logger) *Amazon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Amazon{client: client, region: region, logger: logger}
}

func (a *Amazon) Put(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, a.logger, "put", func(ctx context.Context) error {
		f, err := os.Open(localPath)
		if err != nil {
			return zerr.Wrap(zerr.NotFound, "", err)
		}
		defer f.Close()
		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(object),
			Body:   f,
		})
		return classifyS3(err)
	})
}

func (a *Amazon) Get(ctx context.Context, bucket, object, localPath string) error {
	return withRetry(ctx, a.logger, "get", func(ctx context.Context) error {
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(object),
		})
		if err != nil {
			return classifyS3(err)
		}
		defer out.Body.Close()
		f, err := os.Create(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, out.Body)
		return err
	})
}

func (a *Amazon) ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error {
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classifyS3(err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if err := fn(*obj.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Amazon) ListBuckets(ctx context.Context, fn func(bucket string) error) error {
	out, err := a.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return classifyS3(err)
	}
	for _, b := range out.Buckets {
		if b.Name == nil {
			continue
		}
		if err := fn(*b.Name); err != nil {
			return err
		}
	}
	return nil
}

func (a *Amazon) Delete(ctx context.Context, bucket, object string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	return classifyS3(err)
}

func (a *Amazon) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := a.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	return classifyS3(err)
}

func (a *Amazon) TestConnection(ctx context.Context) error {
	_, err := a.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	return classifyS3(err)
}

func classifyS3(err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nsb) {
		return zerr.Wrap(zerr.NotFound, zerr.CodeFileNotFound, err)
	}
	if IsTransient(err) {
		return zerr.Wrap(zerr.Transient, "", err)
	}
	return fmt.Errorf("store/amazon: %w", err)
}
