// Package network implements the transport boundary between a sync engine
// and its remote peers: opaque message delivery plus peer-lifecycle events
// (spec.md §4.6). It never parses a message's payload; that is the sync
// engine's job.
package network

import "context"

// PeerID identifies a remote replica. Adapters assign it however suits
// their transport (e.g. via a handshake); nothing above this package
// interprets its contents.
type PeerID string

// EventKind is the discriminant of an Event.
type EventKind string

const (
	EventPeerCandidate    EventKind = "peer-candidate"
	EventPeerConnected    EventKind = "peer-connected"
	EventPeerDisconnected EventKind = "peer-disconnected"
	EventMessage          EventKind = "message"
)

// Event is a single entry in an adapter's lazy, potentially infinite event
// stream. Only the fields relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	PeerID   PeerID
	Metadata map[string]string // peer-candidate
	Type     string            // message
	Payload  []byte            // message
}

// Message is an opaque, addressed payload handed to Send. The adapter
// never inspects Payload.
type Message struct {
	TargetPeerID PeerID
	Type         string
	Payload      []byte
}

// Adapter is the boundary a sync engine binds to move bytes between peers.
// Implementations MUST hold events until Connect is called.
type Adapter interface {
	// Connect begins accepting and dialing peers under localPeerID. After it
	// returns, the adapter may start emitting events on Events(). Calling
	// Connect again while already connected is a no-op.
	Connect(ctx context.Context, localPeerID PeerID, metadata map[string]string) error

	// Send is best-effort: if target is not currently connected, the
	// message is silently dropped and the caller relies on the sync
	// protocol's natural idempotence to retry it on a later sync round.
	Send(msg Message) error

	// Events returns the adapter's event stream. The channel is closed by
	// Disconnect and is not reusable afterward.
	Events() <-chan Event

	// Disconnect releases every peer connection; subsequent Send calls are
	// no-ops. Idempotent.
	Disconnect() error
}
