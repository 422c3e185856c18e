// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package restore

import "golang.org/x/sys/unix"

func setXattr(path, name string, value []byte) error {
	return unix.Lsetxattr(path, name, value, 0)
}
