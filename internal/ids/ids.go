// Package ids generates the two identifier types grovefs is built around:
// DocumentId (collision-resistant, assigned once per document for its
// lifetime) and BlockHash (a content hash of a serialized change block,
// used to track CRDT heads).
package ids

import (
	"encoding/hex"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// DocumentId is an opaque, globally unique identifier for a document: a
// UUIDv4 string. Its two-character Prefix is used to shard StorageKey path
// components (see internal/storage, internal/bundle).
type DocumentId string

// NewDocumentId allocates a fresh, cryptographically random DocumentId.
func NewDocumentId() DocumentId {
	return DocumentId(uuid.New().String())
}

// Valid reports whether id parses as a UUID; repositories reject anything else.
func (id DocumentId) Valid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

func (id DocumentId) String() string { return string(id) }

// Prefix returns the first two hex characters of the id, used both as a
// sharding key for bundle archive paths and as the slim-bundle selector.
func (id DocumentId) Prefix() string {
	s := string(id)
	if len(s) < 2 {
		return s
	}
	return s[:2]
}

// BlockHash identifies a change block by the content hash of its bytes.
// Two blocks with identical content always hash identically, which is what
// lets apply_local be idempotent under replay (spec.md §4.1).
type BlockHash [32]byte

// HashBlock computes the BlockHash of a serialized change block.
func HashBlock(data []byte) BlockHash {
	return BlockHash(blake3.Sum256(data))
}

func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h BlockHash) IsZero() bool {
	return h == BlockHash{}
}
