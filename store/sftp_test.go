//go:build integration

// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// TestSFTPPutGetRoundTrip requires a reachable SFTP endpoint; set
// SFTP_TEST_ADDR/SFTP_TEST_USER/SFTP_TEST_PASSWORD and run with
// -tags=integration.
func TestSFTPPutGetRoundTrip(t *testing.T) {
	addr := os.Getenv("SFTP_TEST_ADDR")
	if addr == "" {
		t.Skip("SFTP_TEST_ADDR not set")
	}

	config := &ssh.ClientConfig{
		User:            os.Getenv("SFTP_TEST_USER"),
		Auth:            []ssh.AuthMethod{ssh.Password(os.Getenv("SFTP_TEST_PASSWORD"))},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		t.Fatalf("ssh.Dial: %v", err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		t.Fatalf("sftp.NewClient: %v", err)
	}
	defer client.Close()

	s, err := NewSFTP(client, "/tmp/zorigami-test", nil)
	if err != nil {
		t.Fatalf("NewSFTP: %v", err)
	}
	testPutGetRoundTrip(t, s)
}
