package engine

import (
	"context"
	"log"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/grovefs/grovefs/internal/crdt"
	"github.com/grovefs/grovefs/internal/ids"
	"github.com/grovefs/grovefs/internal/network"
)

// syncMessageType is the network.Message.Type used for every envelope this
// engine exchanges with peers; the network adapter itself never
// interprets it (spec.md §4.6 "the network adapter treats them as byte
// strings and does not parse them").
const syncMessageType = "grovefs-sync"

// envelope is the wire payload carried inside a sync Message: every block
// of a single document the sender is offering the recipient.
type envelope struct {
	DocID  string   `msgpack:"d"`
	Blocks [][]byte `msgpack:"b"`
}

// netBinding tracks one connected network.Adapter's live peer set, so
// Broadcast and peer bootstrap know who to address.
type netBinding struct {
	adapter network.Adapter

	mu    sync.Mutex
	peers map[network.PeerID]bool
}

func (nb *netBinding) peerCount() int {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return len(nb.peers)
}

func (nb *netBinding) connectedPeers() []network.PeerID {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	out := make([]network.PeerID, 0, len(nb.peers))
	for p := range nb.peers {
		out = append(out, p)
	}
	return out
}

// AddNetwork connects adapter under localPeerID and binds it into the
// engine's sync protocol: every locally committed block is broadcast to
// connected peers (via Broadcast, wired as the repository's Broadcaster),
// a newly connected peer is bootstrapped with every document this process
// currently holds live, and inbound sync messages are absorbed into the
// repository (spec.md §4.6, §4.7).
func (e *Engine) AddNetwork(ctx context.Context, adapter network.Adapter, localPeerID network.PeerID, metadata map[string]string) error {
	if err := adapter.Connect(ctx, localPeerID, metadata); err != nil {
		return err
	}

	nb := &netBinding{adapter: adapter, peers: make(map[network.PeerID]bool)}
	e.netsMu.Lock()
	e.nets = append(e.nets, nb)
	e.netsMu.Unlock()

	go e.runNetwork(context.WithoutCancel(ctx), nb)
	return nil
}

func (e *Engine) runNetwork(ctx context.Context, nb *netBinding) {
	for ev := range nb.adapter.Events() {
		switch ev.Kind {
		case network.EventPeerCandidate:
			log.Printf("[engine] peer candidate %s", ev.PeerID)
		case network.EventPeerConnected:
			nb.mu.Lock()
			nb.peers[ev.PeerID] = true
			nb.mu.Unlock()
			go e.bootstrapPeer(ctx, nb, ev.PeerID)
		case network.EventPeerDisconnected:
			nb.mu.Lock()
			delete(nb.peers, ev.PeerID)
			nb.mu.Unlock()
		case network.EventMessage:
			if ev.Type != syncMessageType {
				continue
			}
			e.absorb(ctx, ev.PeerID, ev.Payload)
		}
	}
}

// bootstrapPeer sends peer every block of every document this process
// currently holds live, so a freshly connected replica converges without
// waiting for a local mutation to trigger Broadcast.
func (e *Engine) bootstrapPeer(ctx context.Context, nb *netBinding, peer network.PeerID) {
	r := e.Repo()
	if r == nil {
		return
	}
	for _, id := range r.Handles() {
		h, err := r.Find(ctx, id)
		if err != nil || !h.IsReady() {
			continue
		}
		doc := h.Document()
		if doc == nil {
			continue
		}
		state := e.peerState(id, peer)
		_, msg := doc.GenerateSyncMessage(state)
		if msg == nil {
			continue
		}
		e.sendMessage(nb, peer, id, msg.Blocks)
	}
}

// absorb decodes a sync envelope and folds every block it carries into
// the named document, creating an empty local copy first if this process
// has never seen the document before (spec.md §4.1 apply_remote contract).
func (e *Engine) absorb(ctx context.Context, peer network.PeerID, payload []byte) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		log.Printf("[engine] malformed sync envelope from %s: %v", peer, err)
		return
	}
	docID := ids.DocumentId(env.DocID)

	r := e.Repo()
	if r == nil {
		return
	}
	h, err := r.EnsureRemote(ctx, docID)
	if err != nil {
		log.Printf("[engine] ensure remote document %s: %v", docID, err)
		return
	}

	state := e.peerState(docID, peer)
	for _, raw := range env.Blocks {
		block, err := crdt.DecodeBlock(raw)
		if err != nil {
			log.Printf("[engine] malformed block for %s from %s: %v", docID, peer, err)
			continue
		}
		if err := h.ApplyRemoteBlock(block); err != nil {
			log.Printf("[engine] apply remote block for %s: %v", docID, err)
			continue
		}
		state.Known[block.Hash] = true
	}
}

// Broadcast implements repo.Broadcaster: every local mutation's block is
// forwarded to every connected peer on every bound network adapter.
func (e *Engine) Broadcast(id ids.DocumentId, block *crdt.Block) {
	e.netsMu.RLock()
	nets := append([]*netBinding(nil), e.nets...)
	e.netsMu.RUnlock()
	if len(nets) == 0 {
		return
	}

	for _, nb := range nets {
		for _, peer := range nb.connectedPeers() {
			state := e.peerState(id, peer)
			if state.Known[block.Hash] {
				continue
			}
			state.Known[block.Hash] = true
			e.sendMessage(nb, peer, id, []*crdt.Block{block})
		}
	}
}

func (e *Engine) sendMessage(nb *netBinding, peer network.PeerID, docID ids.DocumentId, blocks []*crdt.Block) {
	raw := make([][]byte, 0, len(blocks))
	for _, b := range blocks {
		data, err := b.Encode()
		if err != nil {
			log.Printf("[engine] encode block for %s: %v", docID, err)
			return
		}
		raw = append(raw, data)
	}
	payload, err := msgpack.Marshal(&envelope{DocID: docID.String(), Blocks: raw})
	if err != nil {
		log.Printf("[engine] marshal sync envelope for %s: %v", docID, err)
		return
	}
	if err := nb.adapter.Send(network.Message{TargetPeerID: peer, Type: syncMessageType, Payload: payload}); err != nil {
		log.Printf("[engine] send to %s dropped: %v", peer, err)
	}
}

// peerState returns the (document, peer) PeerState tracking structure,
// creating an empty one (meaning "peer is known to have nothing yet") on
// first use.
func (e *Engine) peerState(id ids.DocumentId, peer network.PeerID) *crdt.PeerState {
	e.peerMu.Lock()
	defer e.peerMu.Unlock()
	byPeer, ok := e.peerStates[id]
	if !ok {
		byPeer = make(map[network.PeerID]*crdt.PeerState)
		e.peerStates[id] = byPeer
	}
	state, ok := byPeer[peer]
	if !ok {
		state = crdt.NewPeerState()
		byPeer[peer] = state
	}
	return state
}
