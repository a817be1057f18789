package storage

import (
	"strconv"
	"strings"

	"github.com/grovefs/grovefs/internal/grovefserr"
)

// Key is an ordered sequence of non-empty path components addressing a
// single stored change-block blob, e.g. {documentId, "snapshot"} or
// {documentId, "incremental-3"}. Its canonical serialization (components
// joined by "/") is stable across every Adapter implementation so a bundle
// written by one can be read by another.
type Key []string

// NewKey validates and builds a Key from its components.
func NewKey(components ...string) (Key, error) {
	if len(components) == 0 {
		return nil, grovefserr.New(grovefserr.StorageError, "storage key must have at least one component")
	}
	for _, c := range components {
		if c == "" {
			return nil, grovefserr.New(grovefserr.StorageError, "storage key component must not be empty")
		}
	}
	k := make(Key, len(components))
	copy(k, components)
	return k, nil
}

// Canonical returns the stable string form used as archive member paths and
// SQL primary keys: components joined by "/".
func (k Key) Canonical() string {
	return strings.Join(k, "/")
}

// ParseKey is the inverse of Canonical.
func ParseKey(s string) Key {
	return strings.Split(s, "/")
}

// IsPrefix reports whether p is a component-wise prefix of k.
func (p Key) IsPrefix(k Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i, c := range p {
		if k[i] != c {
			return false
		}
	}
	return true
}

// SnapshotCategory and IncrementalCategory name the two StorageKey
// categories spec.md §4.2 defines for a document's second component.
const SnapshotCategory = "snapshot"

// IncrementalCategory names the category for the nth incremental change
// block persisted for a document, n starting at 0.
func IncrementalCategory(seq int) string {
	return "incremental-" + strconv.Itoa(seq)
}
