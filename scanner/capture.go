// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package scanner walks a dataset's base path and produces the
// content-addressed Tree/File model described in §3/§4.E: a post-order
// capture of the filesystem, and a breadth-first diff between two
// already-captured trees.
package scanner

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sort"

	"github.com/zorigami-engine/zorigami/digest"
	"github.com/zorigami-engine/zorigami/metadata"
)

// ErrCyclicSymlink is returned when WithFollowSymlinks encounters a
// symlink cycle.
var ErrCyclicSymlink = errors.New("scanner: cyclic symbolic link")

// FileRef locates the on-disk bytes behind a content hash discovered
// during Capture, so the backup driver can chunk a file without
// re-walking the filesystem.
type FileRef struct {
	Path string
	Size uint64
}

// Result is the output of a full filesystem capture.
type Result struct {
	RootDigest string
	Trees      map[string]metadata.Tree
	// Files maps content-hash to a representative on-disk location.
	// Identical content appearing at multiple paths keeps only the
	// first path seen — any of them read back the same bytes.
	Files map[string]FileRef
	// Xattrs maps a captured extended-attribute value's digest to its
	// raw bytes, for the backup driver to persist into the Xattr
	// collection alongside the Tree that references it.
	Xattrs map[string][]byte
}

// Capture walks root post-order (children before their parent) and
// returns the resulting Merkle tree plus every file it observed.
func Capture(root string, opts ...Option) (*Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scanner: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("scanner: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: root is not a directory: %s", absRoot)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	b := &builder{
		root:    absRoot,
		opts:    o,
		trees:   make(map[string]metadata.Tree),
		files:   make(map[string]FileRef),
		xattrs:  make(map[string][]byte),
		visited: make(map[string]bool),
		owners:  make(map[uint32]string),
		groups:  make(map[uint32]string),
	}

	rootDigest, err := b.buildTree(absRoot, "")
	if err != nil {
		return nil, err
	}
	return &Result{RootDigest: rootDigest, Trees: b.trees, Files: b.files, Xattrs: b.xattrs}, nil
}

type builder struct {
	root    string
	opts    *options
	trees   map[string]metadata.Tree
	files   map[string]FileRef
	xattrs  map[string][]byte
	visited map[string]bool
	owners  map[uint32]string
	groups  map[uint32]string
}

func (b *builder) buildTree(absPath, relPath string) (string, error) {
	if b.opts.followSymlinks {
		if real, err := filepath.EvalSymlinks(absPath); err == nil {
			if b.visited[real] {
				return "", ErrCyclicSymlink
			}
			b.visited[real] = true
			defer delete(b.visited, real)
		}
	}

	dirEntries, err := os.ReadDir(absPath)
	if err != nil {
		// A directory we can't even list becomes a single ERROR entry
		// in the parent instead of aborting the walk (§4.E).
		return "", err
	}

	var entries []metadata.TreeEntry
	for _, de := range dirEntries {
		name := de.Name()
		childRel := filepath.Join(relPath, name)
		childAbs := filepath.Join(absPath, name)
		if b.opts.shouldExclude(childRel) {
			continue
		}
		entries = append(entries, b.buildEntry(childAbs, childRel, name))
	}

	metadata.SortEntries(entries)
	tree := metadata.Tree{Entries: entries}
	tree.Digest = tree.ComputeDigest()
	b.trees[tree.Digest] = tree
	return tree.Digest, nil
}

// buildEntry never returns an error: any failure at a specific entry
// becomes a synthetic KindError entry and the walk continues (§4.E).
func (b *builder) buildEntry(absPath, relPath, name string) metadata.TreeEntry {
	var lst os.FileInfo
	var err error
	if b.opts.followSymlinks {
		lst, err = os.Stat(absPath)
	} else {
		lst, err = os.Lstat(absPath)
	}
	if err != nil {
		return errorEntry(name, err)
	}

	uid, gid, ctime := statOwnership(lst)
	entry := metadata.TreeEntry{
		Name:  name,
		Mode:  uint32(lst.Mode().Perm()),
		UID:   uid,
		GID:   gid,
		Owner: b.lookupOwner(uid),
		Group: b.lookupGroup(gid),
		Ctime: ctime,
		Mtime: lst.ModTime().Unix(),
	}
	if b.opts.captureXattrs {
		entry.Xattrs = b.captureXattrs(absPath)
	}

	switch {
	case lst.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(absPath)
		if err != nil {
			return errorEntry(name, err)
		}
		entry.Kind = metadata.KindSymlink
		entry.Reference = base64.StdEncoding.EncodeToString([]byte(target))
		return entry

	case lst.IsDir():
		sub, err := b.buildTree(absPath, relPath)
		if err != nil {
			return errorEntry(name, err)
		}
		entry.Kind = metadata.KindDirectory
		entry.Reference = sub
		return entry

	default:
		hash, size, err := hashFile(absPath)
		if err != nil {
			return errorEntry(name, err)
		}
		entry.Kind = metadata.KindRegular
		entry.Reference = hash
		if _, seen := b.files[hash]; !seen {
			b.files[hash] = FileRef{Path: absPath, Size: size}
		}
		return entry
	}
}

func errorEntry(name string, err error) metadata.TreeEntry {
	return metadata.TreeEntry{Name: name, Kind: metadata.KindError, Reference: err.Error()}
}

func hashFile(path string) (string, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := digest.NewBLAKE3Hasher()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return digest.New(digest.BLAKE3, h.Sum(nil)).String(), uint64(n), nil
}

func (b *builder) captureXattrs(path string) []metadata.XattrRef {
	names, err := listXattrs(path)
	if err != nil || len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	refs := make([]metadata.XattrRef, 0, len(names))
	for _, name := range names {
		value, err := getXattr(path, name)
		if err != nil {
			continue
		}
		dig := digest.SHA1Sum(value).String()
		if _, seen := b.xattrs[dig]; !seen {
			b.xattrs[dig] = append([]byte(nil), value...)
		}
		refs = append(refs, metadata.XattrRef{Name: name, Digest: dig})
	}
	return refs
}

func (b *builder) lookupOwner(uid uint32) string {
	if name, ok := b.owners[uid]; ok {
		return name
	}
	name := ""
	if u, err := user.LookupId(fmt.Sprint(uid)); err == nil {
		name = u.Username
	}
	b.owners[uid] = name
	return name
}

func (b *builder) lookupGroup(gid uint32) string {
	if name, ok := b.groups[gid]; ok {
		return name
	}
	name := ""
	if g, err := user.LookupGroupId(fmt.Sprint(gid)); err == nil {
		name = g.Name
	}
	b.groups[gid] = name
	return name
}
