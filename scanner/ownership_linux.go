// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package scanner

import (
	"os"
	"syscall"
)

// statOwnership extracts uid/gid/ctime from a FileInfo's platform-
// specific Sys() payload, grounded on the same unix.Stat_t access
// pattern used throughout the pack for POSIX metadata (§4.E: "mode,
// owner, times ... are captured").
func statOwnership(fi os.FileInfo) (uid, gid uint32, ctime int64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fi.ModTime().Unix()
	}
	return st.Uid, st.Gid, st.Ctim.Sec
}
