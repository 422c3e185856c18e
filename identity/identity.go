// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package identity computes the stable identifiers the repository
// needs for multi-computer coordination (§4.I/§4.G): a deterministic
// per-machine UUID, and ULID-based bucket names for new stores.
package identity

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ComputerUUID deterministically derives a UUIDv5 from hostname and
// username under the standard URL namespace, so the same machine/user
// pair always reports the same identity across restarts without
// persisting anything (§4.J: "UUIDv5(URL-namespace, '<host>/<user>')").
func ComputerUUID(hostname, username string) uuid.UUID {
	name := hostname + "/" + username
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}

// NewULID generates a new lowercase, Crockford base32 ULID suitable
// as a store bucket name component: time-sortable, collision-resistant
// without coordination, and URL/filesystem safe.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("identity: generate ulid: %w", err)
	}
	return strings.ToLower(id.String()), nil
}

// BucketName derives a globally-distinguishable bucket name for a new
// pack store from a freshly generated ULID and this computer's UUID,
// so two computers initializing a store at the same instant never
// collide (§4.G: "buckets are named to avoid collisions between
// computers sharing one backend").
func BucketName(computer uuid.UUID) (string, error) {
	id, err := NewULID()
	if err != nil {
		return "", err
	}
	return id + strings.ReplaceAll(computer.String(), "-", ""), nil
}
