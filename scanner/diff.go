// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"path"

	"github.com/zorigami-engine/zorigami/metadata"
)

// Lookup resolves a Tree digest to its Tree, from whatever backs it —
// the in-memory map a just-completed Capture produced, or the
// metadata repository holding a prior snapshot's trees.
type Lookup func(digest string) (metadata.Tree, bool, error)

// ChangedFile is one regular file the diff determined needs
// consideration by the Pack Builder: either new, or whose content hash
// differs from the parent snapshot's (§4.F step 3).
type ChangedFile struct {
	Path        string
	ContentHash string
}

// Diff performs the breadth-first merge-walk described in §4.E between
// the tree rooted at oldDigest (the parent snapshot, "" if none) and
// newDigest (the snapshot just captured), returning every regular file
// that needs to be examined by the Pack Builder. old and new may be
// backed by different Lookups since a parent's trees usually live in
// the metadata repository while the new trees are still only in an
// in-memory Capture Result.
func Diff(oldLookup, newLookup Lookup, oldDigest, newDigest string) ([]ChangedFile, error) {
	var changed []ChangedFile
	type pair struct {
		oldDigest, newDigest, prefix string
	}
	queue := []pair{{oldDigest, newDigest, ""}}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p.oldDigest == p.newDigest {
			continue // identical subtree reference: nothing changed beneath it
		}

		var oldEntries, newEntries []metadata.TreeEntry
		if p.oldDigest != "" {
			t, ok, err := oldLookup(p.oldDigest)
			if err != nil {
				return nil, err
			}
			if ok {
				oldEntries = t.Entries
			}
		}
		if p.newDigest != "" {
			t, ok, err := newLookup(p.newDigest)
			if err != nil {
				return nil, err
			}
			if ok {
				newEntries = t.Entries
			}
		}

		i, j := 0, 0
		for i < len(oldEntries) || j < len(newEntries) {
			switch {
			case j >= len(newEntries) || (i < len(oldEntries) && oldEntries[i].Name < newEntries[j].Name):
				// removed: present only in old, nothing to pack
				i++
			case i >= len(oldEntries) || (j < len(newEntries) && newEntries[j].Name < oldEntries[i].Name):
				added, err := addAllFiles(newLookup, newEntries[j], path.Join(p.prefix, newEntries[j].Name))
				if err != nil {
					return nil, err
				}
				changed = append(changed, added...)
				j++
			default:
				oe, ne := oldEntries[i], newEntries[j]
				childPath := path.Join(p.prefix, ne.Name)
				switch {
				case oe.Reference == ne.Reference && oe.Kind == ne.Kind:
					// identical: skip
				case oe.Kind == metadata.KindDirectory && ne.Kind == metadata.KindDirectory:
					queue = append(queue, pair{oe.Reference, ne.Reference, childPath})
				case ne.Kind == metadata.KindDirectory:
					// kind changed to a directory: everything beneath is new
					added, err := addAllFiles(newLookup, ne, childPath)
					if err != nil {
						return nil, err
					}
					changed = append(changed, added...)
				case ne.Kind == metadata.KindRegular:
					changed = append(changed, ChangedFile{Path: childPath, ContentHash: ne.Reference})
				}
				i++
				j++
			}
		}
	}
	return changed, nil
}

// addAllFiles recursively yields every regular file under entry,
// which is being added wholesale (a brand-new subtree, or a node that
// changed kind into a directory).
func addAllFiles(lookup Lookup, entry metadata.TreeEntry, p string) ([]ChangedFile, error) {
	switch entry.Kind {
	case metadata.KindRegular:
		return []ChangedFile{{Path: p, ContentHash: entry.Reference}}, nil
	case metadata.KindDirectory:
		t, ok, err := lookup(entry.Reference)
		if err != nil || !ok {
			return nil, err
		}
		var out []ChangedFile
		for _, child := range t.Entries {
			added, err := addAllFiles(lookup, child, path.Join(p, child.Name))
			if err != nil {
				return nil, err
			}
			out = append(out, added...)
		}
		return out, nil
	default:
		return nil, nil
	}
}

// MapLookup adapts an in-memory digest->Tree map (a Capture Result's
// Trees field) into a Lookup.
func MapLookup(trees map[string]metadata.Tree) Lookup {
	return func(digest string) (metadata.Tree, bool, error) {
		t, ok := trees[digest]
		return t, ok, nil
	}
}
