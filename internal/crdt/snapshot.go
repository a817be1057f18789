package crdt

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/grovefs/grovefs/internal/grovefserr"
	"github.com/grovefs/grovefs/internal/ids"
)

// snapshotWire is the on-disk/on-wire form of a full document history: every
// ready block, in no particular order. Pending (causally incomplete) blocks
// are never persisted; a document reloaded from a snapshot is only ever
// asked to reconstruct state its own blocks fully explain.
type snapshotWire struct {
	Blocks []*Block `msgpack:"blocks"`
}

// MarshalSnapshot serializes every ready block of the document, enough to
// reconstruct it from scratch via Hydrate. This is what the repository
// persists to a document's [id, "snapshot"] storage key.
func (d *Document) MarshalSnapshot() ([]byte, error) {
	d.mu.Lock()
	blocks := make([]*Block, 0, len(d.blocks))
	for _, b := range d.blocks {
		blocks = append(blocks, b)
	}
	d.mu.Unlock()

	data, err := msgpack.Marshal(&snapshotWire{Blocks: blocks})
	if err != nil {
		return nil, grovefserr.Wrap(grovefserr.StorageError, err, "marshal document snapshot")
	}
	return data, nil
}

// Hydrate reconstructs a Document for id, authored locally by actor, from a
// previously marshaled snapshot. Blocks are fed through the same
// pending/ready folding path ApplyRemote uses, so any encoding order works
// as long as the snapshot is causally complete.
//
// Hash is tagged msgpack:"-" (block.go), so every block comes out of
// msgpack.Unmarshal with a zero Hash and must be re-sealed before it is fed
// anywhere that keys off Hash — most importantly ApplyRemote's dedup map —
// or every block but the first collides on the zero hash and is dropped.
func Hydrate(id ids.DocumentId, actor string, data []byte) (*Document, error) {
	var wire snapshotWire
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, grovefserr.Wrap(grovefserr.StorageError, err, "unmarshal document snapshot")
	}

	doc := New(id, actor)
	for _, b := range wire.Blocks {
		if err := b.seal(); err != nil {
			return nil, grovefserr.Wrap(grovefserr.StorageError, err, "reseal snapshot block")
		}
		if _, err := doc.ApplyRemote(b); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
