// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid blake3", "blake3-" + strings.Repeat("ab", 32), false},
		{"valid sha1", "sha1-" + strings.Repeat("cd", 20), false},
		{"no dash", "blake3deadbeef", true},
		{"empty hex", "blake3-", true},
		{"bad hex", "blake3-zz", true},
		{"empty algo", "-abcd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestBLAKE3SumStable(t *testing.T) {
	d1 := BLAKE3Sum([]byte("hello"))
	d2 := BLAKE3Sum([]byte("hello"))
	if d1 != d2 {
		t.Errorf("BLAKE3Sum not stable: %v != %v", d1, d2)
	}
	if d1.Algo() != BLAKE3 {
		t.Errorf("Algo() = %v, want blake3", d1.Algo())
	}
	if !d1.Valid() {
		t.Errorf("Valid() = false for %v", d1)
	}
}

func TestSHA1SumDiffersFromBLAKE3(t *testing.T) {
	b := BLAKE3Sum([]byte("x"))
	s := SHA1Sum([]byte("x"))
	if b == s {
		t.Errorf("expected different digests for different algorithms")
	}
	if s.Algo() != SHA1 {
		t.Errorf("Algo() = %v, want sha1", s.Algo())
	}
}

func TestBLAKE3ReaderMatchesSum(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := BLAKE3Sum(data)
	got, err := BLAKE3Reader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("BLAKE3Reader: %v", err)
	}
	if got != want {
		t.Errorf("BLAKE3Reader = %v, want %v", got, want)
	}
}
