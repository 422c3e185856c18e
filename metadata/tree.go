// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zorigami-engine/zorigami/digest"
)

// EntryKind distinguishes what Reference means on a TreeEntry (§3).
type EntryKind string

const (
	KindDirectory EntryKind = "directory"
	KindRegular   EntryKind = "regular"
	KindSymlink   EntryKind = "symlink"
	KindError     EntryKind = "error"
)

// XattrRef names one extended attribute captured on a Tree entry: the
// attribute name plus the content digest of its value (§3).
type XattrRef struct {
	Name   string `msgpack:"1"`
	Digest string `msgpack:"2"`
}

// TreeEntry is one child of a Tree, in the shape §4.E's scanner
// produces. Reference's meaning depends on Kind: a SHA-1 subtree
// digest for KindDirectory, a content-hash for KindRegular, a
// base64-encoded symlink target for KindSymlink, or the error string
// itself for KindError.
type TreeEntry struct {
	Name      string     `msgpack:"1"`
	Kind      EntryKind  `msgpack:"2"`
	Mode      uint32     `msgpack:"3"`
	UID       uint32     `msgpack:"4"`
	GID       uint32     `msgpack:"5"`
	Owner     string     `msgpack:"6,omitempty"`
	Group     string     `msgpack:"7,omitempty"`
	Ctime     int64      `msgpack:"8"`
	Mtime     int64      `msgpack:"9"`
	Xattrs    []XattrRef `msgpack:"10,omitempty"`
	Reference string     `msgpack:"11"`
}

// Tree is keyed by the SHA-1 of CanonicalForm (§3). Entries must
// already be sorted by byte-wise name order — callers (the scanner)
// are responsible for that, so CanonicalForm never needs to re-sort
// and stays a pure, allocation-light join.
type Tree struct {
	Digest  string      `msgpack:"1"`
	Entries []TreeEntry `msgpack:"2"`
}

// CanonicalForm renders the line-oriented form §4.E specifies for
// SHA-1 computation: one line per entry, "mode uid:gid ctime mtime
// reference name".
func (t Tree) CanonicalForm() string {
	lines := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		lines[i] = fmt.Sprintf("%o %d:%d %d %d %s %s", e.Mode, e.UID, e.GID, e.Ctime, e.Mtime, e.Reference, e.Name)
	}
	return strings.Join(lines, "\n")
}

// ComputeDigest derives the tree's content digest from CanonicalForm.
func (t Tree) ComputeDigest() string {
	return digest.SHA1Sum([]byte(t.CanonicalForm())).String()
}

// SortEntries orders entries by byte-wise name order in place, as
// §4.E's canonical form requires.
func SortEntries(entries []TreeEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

func treeKey(dig string) string { return bucketTree + "/" + dig }

// PutTree idempotently inserts a Tree record under its own content
// digest (§4.D: Trees are "write-once and content-keyed").
func (d *DB) PutTree(t Tree) error {
	raw, err := encode(t)
	if err != nil {
		return err
	}
	return d.putIdempotent(bucketTree, treeKey(t.Digest), raw)
}

// GetTree fetches a Tree by digest.
func (d *DB) GetTree(dig string) (Tree, bool, error) {
	raw, ok, err := d.get(bucketTree, treeKey(dig))
	if err != nil || !ok {
		return Tree{}, ok, err
	}
	var t Tree
	if err := decode(raw, &t); err != nil {
		return Tree{}, false, err
	}
	return t, true, nil
}
