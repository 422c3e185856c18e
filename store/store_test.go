// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

var _ Port = (*Local)(nil)
var _ Port = (*Memory)(nil)
var _ Port = (*SFTP)(nil)
var _ Port = (*Amazon)(nil)
var _ Port = (*Minio)(nil)
var _ Port = (*Azure)(nil)
var _ Port = (*Google)(nil)

func testPutGetRoundTrip(t *testing.T, p Port) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pack")
	if err := os.WriteFile(src, []byte("pack bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.Put(ctx, "bucket1", "obj1.pack", src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	dst := filepath.Join(dir, "dst.pack")
	if err := p.Get(ctx, "bucket1", "obj1.pack", dst); err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "pack bytes" {
		t.Errorf("got %q, want %q", got, "pack bytes")
	}

	var objects []string
	if err := p.ListObjects(ctx, "bucket1", "", func(o string) error {
		objects = append(objects, o)
		return nil
	}); err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 1 || objects[0] != "obj1.pack" {
		t.Errorf("ListObjects = %v, want [obj1.pack]", objects)
	}

	if err := p.Delete(ctx, "bucket1", "obj1.pack"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Get(ctx, "bucket1", "obj1.pack", dst); err == nil {
		t.Errorf("expected Get to fail after Delete")
	}
}

func TestLocalPutGetRoundTrip(t *testing.T) {
	l, err := NewLocal(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	testPutGetRoundTrip(t, l)
}

func TestMemoryPutGetRoundTrip(t *testing.T) {
	testPutGetRoundTrip(t, NewMemory())
}

func TestLocalListBuckets(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "x")
	os.WriteFile(src, []byte("x"), 0o644)
	for _, b := range []string{"b1", "b2"} {
		if err := l.Put(ctx, b, "obj", src); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	var buckets []string
	if err := l.ListBuckets(ctx, func(b string) error {
		buckets = append(buckets, b)
		return nil
	}); err != nil {
		t.Fatalf("ListBuckets: %v", err)
	}
	if len(buckets) != 2 {
		t.Errorf("got %d buckets, want 2", len(buckets))
	}
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain not found", os.ErrNotExist, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPackObjectNaming(t *testing.T) {
	if got := PackObjectName("blake3-abc"); got != "blake3-abc.pack" {
		t.Errorf("PackObjectName = %q", got)
	}
	if got := DatabaseObjectName("blake3-abc"); got != "db/blake3-abc.pack" {
		t.Errorf("DatabaseObjectName = %q", got)
	}
}
