package crdt

import "github.com/grovefs/grovefs/internal/ids"

// PeerState tracks which blocks of a single document a remote peer is
// already believed to hold. One PeerState exists per (document, peer) pair
// (spec.md §4.1 generate_sync_message / absorb_sync_message).
type PeerState struct {
	Known map[ids.BlockHash]bool
}

// NewPeerState returns an empty peer state, i.e. "peer has nothing".
func NewPeerState() *PeerState {
	return &PeerState{Known: make(map[ids.BlockHash]bool)}
}

// Message is the wire payload exchanged between two replicas of a document:
// the set of blocks the sender believes the recipient is missing.
type Message struct {
	Blocks []*Block
}

// GenerateSyncMessage computes the blocks this document holds that peer is
// not yet known to have, marks them known in peer's state, and returns the
// message to send. Returns (peer, nil) if there is nothing new to send.
func (d *Document) GenerateSyncMessage(peer *PeerState) (*PeerState, *Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Block
	for hash, block := range d.blocks {
		if peer.Known[hash] {
			continue
		}
		out = append(out, block)
		peer.Known[hash] = true
	}
	if len(out) == 0 {
		return peer, nil
	}
	return peer, &Message{Blocks: out}
}

// AbsorbSyncMessage merges every block in msg into the document (via the
// same pending/ready logic as ApplyRemote), marks them known in peer's
// state since the sender evidently holds them too, and returns the folded
// value, the updated peer state, and the blocks that were newly applied
// (as opposed to already-known no-ops).
func (d *Document) AbsorbSyncMessage(peer *PeerState, msg *Message) (Value, *PeerState, []*Block, error) {
	var emitted []*Block
	for _, block := range msg.Blocks {
		d.mu.Lock()
		_, known := d.blocks[block.Hash]
		_, alreadyPending := d.pending[block.Hash]
		d.mu.Unlock()

		if !known && !alreadyPending {
			emitted = append(emitted, block)
		}

		if _, err := d.ApplyRemote(block); err != nil {
			return Value{}, peer, emitted, err
		}
		peer.Known[block.Hash] = true
	}
	return d.Value(), peer, emitted, nil
}
