// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/zorigami-engine/zorigami/zerr"
)

// Memory is an in-process, map-backed driver used only in tests that
// want to exercise the backup/restore drivers without touching disk
// or a network.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

// NewMemory creates an empty Memory driver.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, bucket, object, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][object] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(ctx context.Context, bucket, object, localPath string) error {
	m.mu.Lock()
	data, ok := m.buckets[bucket][object]
	m.mu.Unlock()
	if !ok {
		return zerr.New(zerr.NotFound, zerr.CodeFileNotFound, bucket+"/"+object)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (m *Memory) ListObjects(ctx context.Context, bucket, prefix string, fn func(object string) error) error {
	m.mu.Lock()
	var names []string
	for name := range m.buckets[bucket] {
		if prefix == "" || hasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.Unlock()
	sort.Strings(names)
	for _, name := range names {
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) ListBuckets(ctx context.Context, fn func(bucket string) error) error {
	m.mu.Lock()
	var names []string
	for name := range m.buckets {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	for _, name := range names {
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, bucket, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], object)
	return nil
}

func (m *Memory) DeleteBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, bucket)
	return nil
}

func (m *Memory) TestConnection(ctx context.Context) error { return nil }
