// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package scanner

import "os"

// statOwnership reports uid and gid 0, and the file's mtime in place
// of ctime, on platforms without a POSIX Stat_t (§4.E's uid/gid
// capture is a best-effort enrichment, not load-bearing for dedup).
func statOwnership(fi os.FileInfo) (uid, gid uint32, ctime int64) {
	return 0, 0, fi.ModTime().Unix()
}
