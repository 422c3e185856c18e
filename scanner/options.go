// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package scanner

import "path/filepath"

// Option configures a Capture call.
type Option func(*options)

type options struct {
	excludeGlobs   []string
	followSymlinks bool
	captureXattrs  bool
}

func defaultOptions() *options {
	return &options{captureXattrs: true}
}

// WithExclude adds glob patterns matched against both the entry's
// path relative to the scan root and its base name (§4.E capture
// excludes a dataset's configured ignore globs).
func WithExclude(patterns ...string) Option {
	return func(o *options) { o.excludeGlobs = append(o.excludeGlobs, patterns...) }
}

// WithFollowSymlinks dereferences symlinks instead of storing their
// target path. Off by default, matching the teacher's fstree.
func WithFollowSymlinks() Option {
	return func(o *options) { o.followSymlinks = true }
}

// WithoutXattrs skips extended-attribute capture entirely, useful on
// filesystems or platforms where Listxattr is unsupported or
// expensive.
func WithoutXattrs() Option {
	return func(o *options) { o.captureXattrs = false }
}

func (o *options) shouldExclude(relPath string) bool {
	for _, pattern := range o.excludeGlobs {
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(relPath)); matched {
			return true
		}
	}
	return false
}
