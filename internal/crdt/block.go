package crdt

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
)

// OpKind is the kind of mutation a single Op performs on one field register
// of a document's value. A field is the unit of conflict resolution; it may
// be a bare top-level name ("children") or a "."-separated path into a
// nested object ("content.title"), in which case only that key has its own
// LWW register. Arrays are always replaced wholesale, not merged
// element-wise (spec.md §4.5).
type OpKind uint8

const (
	OpSet OpKind = iota
	OpDelete
)

// Op mutates a single field register, identified by Field, which may be a
// bare name or a "."-separated path.
type Op struct {
	Field string `msgpack:"f"`
	Kind  OpKind `msgpack:"k"`
	Value Value  `msgpack:"v"`
}

// Block is a change block: an opaque, self-describing, append-only record
// of one local mutation and its causal predecessors (spec.md §3, §4.1).
type Block struct {
	Hash    ids.BlockHash   `msgpack:"-"`
	Parents []ids.BlockHash `msgpack:"p"`
	Actor   string          `msgpack:"a"`
	Counter uint64          `msgpack:"c"`
	Ops     []Op            `msgpack:"o"`
}

// Encode serializes the block to its wire/storage representation. The hash
// is derived from this encoding, not stored in it, so re-hashing a decoded
// block always reproduces the same BlockHash.
func (b *Block) Encode() ([]byte, error) {
	return msgpack.Marshal(b)
}

// DecodeBlock parses a wire-format change block and computes its hash. It
// fails with MalformedBlock if data cannot be parsed or is structurally
// invalid (spec.md §4.1 apply_remote contract).
func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, grovefserr.Wrap(grovefserr.MalformedBlock, err, "decode change block")
	}
	if b.Actor == "" {
		return nil, grovefserr.New(grovefserr.MalformedBlock, "change block missing actor")
	}
	if len(b.Ops) == 0 {
		return nil, grovefserr.New(grovefserr.MalformedBlock, "change block has no ops")
	}
	for _, op := range b.Ops {
		if op.Field == "" {
			return nil, grovefserr.New(grovefserr.MalformedBlock, "change block op missing field")
		}
	}
	b.Hash = ids.HashBlock(data)
	return &b, nil
}

// seal re-encodes the block deterministically (msgpack map
// encoding order is stable for struct-tagged fields) and hashes it.
func (b *Block) seal() error {
	data, err := b.Encode()
	if err != nil {
		return err
	}
	b.Hash = ids.HashBlock(data)
	return nil
}
