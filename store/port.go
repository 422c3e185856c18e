// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package store implements the object-store port (§4.C) and its
// concrete drivers. Every driver call is blocking from the caller's
// point of view. Put and Get of the Local, SFTP, Amazon, Minio, Azure
// and Google drivers retry transient failures with bounded exponential
// backoff before surfacing them; the other calls, and every call of
// the Memory driver, make a single attempt.
package store

import (
	"context"
	"time"
)

// Port is the interface the rest of the engine programs against,
// regardless of backend.
type Port interface {
	// Put uploads the contents of localPath to bucket/object. The
	// Local, SFTP, Minio, Azure and Memory drivers create a missing
	// bucket; the Amazon and Google drivers do not, and their Put into
	// a bucket that does not exist fails.
	Put(ctx context.Context, bucket, object, localPath string) error

	// Get downloads bucket/object to localPath. No driver requests or
	// waits for an asynchronous retrieval such as a Glacier restore;
	// for an object that is not yet readable Get returns the backend's
	// error.
	Get(ctx context.Context, bucket, object, localPath string) error

	// ListObjects invokes fn once per object in bucket whose name
	// starts with prefix, stopping early if fn returns an error.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error

	// ListBuckets invokes fn once per bucket visible to this store.
	ListBuckets(ctx context.Context, fn func(bucket string) error) error

	// Delete removes a single object. Deleting an absent object is
	// not an error.
	Delete(ctx context.Context, bucket, object string) error

	// DeleteBucket removes an entire bucket, including its objects on
	// backends that require that.
	DeleteBucket(ctx context.Context, bucket string) error

	// TestConnection verifies credentials and reachability without
	// mutating anything.
	TestConnection(ctx context.Context) error
}

// DefaultOperationTimeout is the default per-operation timeout,
// 120 s. No driver applies it: a retried operation is bounded only by
// the caller's ctx and the retry count.
const DefaultOperationTimeout = 120 * time.Second

// DefaultBucketObjectCap bounds how many objects a driver packs into
// one bucket before rolling over to a new one (§4.F step 6: "a
// per-store object-per-bucket cap"). The backup driver applies this
// cap to every store; no driver overrides it.
const DefaultBucketObjectCap = 128

// PackObjectName returns the conventional object name for a pack
// digest (§4.C: "<chunk-or-pack digest>.pack").
func PackObjectName(packDigest string) string {
	return packDigest + ".pack"
}

// DatabaseObjectName returns the conventional object name for a
// database snapshot backup (§4.C: "database snapshots use a db/
// prefix").
func DatabaseObjectName(packDigest string) string {
	return "db/" + packDigest + ".pack"
}
