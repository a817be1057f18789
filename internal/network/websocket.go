package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/grovefs/grovefs/internal/cache"
)

// WebSocketConfig configures a WebSocketAdapter.
type WebSocketConfig struct {
	// Listen is the address to accept inbound peer connections on, e.g.
	// "127.0.0.1:7420" or ":0" for an ephemeral test port. Empty disables
	// listening (outbound-only / client-only mode).
	Listen string
	// Connect lists peer URLs to dial, e.g. "ws://peer-a:7420/grovefs".
	Connect []string
}

// WebSocketAdapter is the gorilla/websocket-backed Adapter implementation:
// one long-lived connection per configured peer address, redialed with
// exponential backoff on loss, plus an optional inbound listener for peers
// that dial in. Grounded on the teacher's internal/sync.Worker lifecycle
// (stopCh/doneCh/running guarded by a mutex, Start/Stop/Running).
type WebSocketAdapter struct {
	cfg WebSocketConfig

	mu       sync.RWMutex
	running  bool
	localID  PeerID
	metadata map[string]string
	stopCh   chan struct{}
	doneCh   chan struct{}
	peers    map[PeerID]*peerConn
	listener net.Listener
	server   *http.Server

	events chan Event

	// candidates remembers the last-announced metadata per peer for a short
	// window, so a reconnect within that window that brings back identical
	// metadata is suppressed instead of re-emitted as a fresh
	// EventPeerCandidate (registerPeer).
	candidates *cache.Cache[map[string]string]
}

// NewWebSocketAdapter constructs an adapter that is not yet connected.
func NewWebSocketAdapter(cfg WebSocketConfig) *WebSocketAdapter {
	return &WebSocketAdapter{
		cfg:        cfg,
		peers:      make(map[PeerID]*peerConn),
		events:     make(chan Event, 256),
		candidates: cache.New[map[string]string](5*time.Minute, 1024),
	}
}

// Connect implements Adapter.
func (a *WebSocketAdapter) Connect(ctx context.Context, localPeerID PeerID, metadata map[string]string) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.localID = localPeerID
	a.metadata = metadata
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	stopCh := a.stopCh
	a.mu.Unlock()

	if a.cfg.Listen != "" {
		if err := a.listen(); err != nil {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return fmt.Errorf("listen on %s: %w", a.cfg.Listen, err)
		}
	}

	var wg sync.WaitGroup
	for _, addr := range a.cfg.Connect {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.dialLoop(ctx, addr, stopCh)
		}()
	}

	go func() {
		wg.Wait()
		close(a.doneCh)
	}()

	return nil
}

// ListenAddr returns the bound address of the inbound listener, or "" if
// none was configured. Only meaningful after Connect has returned.
func (a *WebSocketAdapter) ListenAddr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Events implements Adapter.
func (a *WebSocketAdapter) Events() <-chan Event { return a.events }

// Send implements Adapter.
func (a *WebSocketAdapter) Send(msg Message) error {
	a.mu.RLock()
	p, ok := a.peers[msg.TargetPeerID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := p.send(msg); err != nil {
		log.Printf("[network] send to %s dropped: %v", msg.TargetPeerID, err)
	}
	return nil
}

// Disconnect implements Adapter.
func (a *WebSocketAdapter) Disconnect() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	stopCh := a.stopCh
	peers := make([]*peerConn, 0, len(a.peers))
	for _, p := range a.peers {
		peers = append(peers, p)
	}
	a.peers = make(map[PeerID]*peerConn)
	srv := a.server
	a.mu.Unlock()

	close(stopCh)
	for _, p := range peers {
		p.close()
	}
	<-a.doneCh

	if srv != nil {
		_ = srv.Close()
	}
	a.candidates.Stop()
	close(a.events)
	return nil
}

func (a *WebSocketAdapter) emit(e Event) {
	select {
	case a.events <- e:
	default:
		log.Printf("[network] event channel full, dropping %s from %s", e.Kind, e.PeerID)
	}
}

func (a *WebSocketAdapter) listen() error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return err
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[network] upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		go a.registerPeer(conn, r.RemoteAddr)
	})

	srv := &http.Server{Handler: mux}
	a.mu.Lock()
	a.listener = ln
	a.server = srv
	a.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[network] listener on %s stopped: %v", a.cfg.Listen, err)
		}
	}()
	return nil
}

// dialLoop redials addr until stopCh closes, backing off between failed
// attempts (base 1s, cap 30s, jitter ±20%, spec.md §4.6). registerPeer
// blocks for the lifetime of each successful connection, so a dial that
// succeeds only returns here once that connection has dropped.
func (a *WebSocketAdapter) dialLoop(ctx context.Context, addr string, stopCh chan struct{}) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			wait := bo.NextBackOff()
			log.Printf("[network] dial %s failed, retrying in %s: %v", addr, wait.Round(time.Millisecond), err)
			select {
			case <-time.After(wait):
				continue
			case <-stopCh:
				return
			}
		}
		bo.Reset()
		a.registerPeer(conn, addr)
	}
}

// handshakeMsg is exchanged once, in both directions, right after a
// connection opens, so each side learns the other's PeerID and metadata.
type handshakeMsg struct {
	PeerID   string            `json:"peer_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (a *WebSocketAdapter) handshake(conn wsConn) (PeerID, map[string]string, error) {
	a.mu.RLock()
	local, meta := a.localID, a.metadata
	a.mu.RUnlock()

	if err := conn.WriteJSON(handshakeMsg{PeerID: string(local), Metadata: meta}); err != nil {
		return "", nil, err
	}
	var remote handshakeMsg
	if err := conn.ReadJSON(&remote); err != nil {
		return "", nil, err
	}
	return PeerID(remote.PeerID), remote.Metadata, nil
}

// registerPeer completes the handshake over conn, announces the peer, and
// then blocks reading messages from it until the connection drops.
func (a *WebSocketAdapter) registerPeer(conn wsConn, origin string) {
	id, meta, err := a.handshake(conn)
	if err != nil {
		log.Printf("[network] handshake with %s failed: %v", origin, err)
		_ = conn.Close()
		return
	}

	if prior, ok := a.candidates.Get(string(id)); !ok || !maps.Equal(prior, meta) {
		a.emit(Event{Kind: EventPeerCandidate, PeerID: id, Metadata: meta})
	}
	a.candidates.Set(string(id), meta)

	pc := newPeerConn(id, conn)
	a.mu.Lock()
	a.peers[id] = pc
	a.mu.Unlock()

	a.emit(Event{Kind: EventPeerConnected, PeerID: id})
	a.readLoop(id, pc)
}

func (a *WebSocketAdapter) readLoop(id PeerID, pc *peerConn) {
	defer func() {
		a.mu.Lock()
		if a.peers[id] == pc {
			delete(a.peers, id)
		}
		a.mu.Unlock()
		pc.close()
		a.emit(Event{Kind: EventPeerDisconnected, PeerID: id})
	}()

	for {
		var wm wireMessage
		if err := pc.conn.ReadJSON(&wm); err != nil {
			return
		}
		a.emit(Event{Kind: EventMessage, PeerID: id, Type: wm.Type, Payload: wm.Payload})
	}
}

// wireMessage is the envelope carried over the websocket for Message.
type wireMessage struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

// wsConn is the subset of *websocket.Conn peerConn depends on, narrowed to
// an interface so peer-level logic (the circuit breaker in particular) can
// be tested against a fake transport.
type wsConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// peerConn wraps one live connection with a per-peer circuit breaker: after
// a run of consecutive write failures it starts failing sends fast instead
// of blocking on a socket that is probably already dead, until the
// breaker's timeout lets a single trial request through.
type peerConn struct {
	id      PeerID
	conn    wsConn
	breaker *gobreaker.CircuitBreaker[any]
	writeMu sync.Mutex

	closeOnce sync.Once
}

func newPeerConn(id PeerID, conn wsConn) *peerConn {
	return &peerConn{
		id:   id,
		conn: conn,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "peer-" + string(id),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (p *peerConn) send(msg Message) error {
	_, err := p.breaker.Execute(func() (any, error) {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		return nil, p.conn.WriteJSON(wireMessage{Type: msg.Type, Payload: msg.Payload})
	})
	return err
}

func (p *peerConn) close() {
	p.closeOnce.Do(func() {
		_ = p.conn.Close()
	})
}
