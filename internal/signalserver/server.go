// Package signalserver implements the signalling server (C6): it assigns a
// per-connection challenge, verifies each node's Announce signature,
// maintains a TTL-evicted table of known nodes, relays PeerSetup envelopes
// between them, and answers ListIDsRequest. Grounded on
// original_source/cli/signal/src/{main,state,websocket}.rs (challenge
// issued per connection, a NodeEntry table, periodic cleanup) re-expressed
// with the teacher's net/http + gorilla/websocket server idiom from
// internal/signaling/ws.go (net.Listen, http.ServeMux, Upgrader, one
// goroutine per connection).
package signalserver

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/util"
	"github.com/ineiti/fledger-sub002/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config is the signalling server's startup configuration (spec §4.6).
type Config struct {
	TTL time.Duration
	// SystemRealm restricts ListIDsRequest replies to nodes claiming this
	// realm. Empty means no restriction.
	SystemRealm string
	// MaxListLen caps the number of entries a ListIDsReply carries. Zero
	// means unlimited.
	MaxListLen int
}

type nodeEntry struct {
	info     nodeid.Info
	lastSeen time.Time
	send     chan wire.Envelope
	conn     *websocket.Conn
}

// Server is the signalling server. Its zero value is not usable; use New.
type Server struct {
	cfg Config

	listener net.Listener
	server   *http.Server

	mu    sync.Mutex
	nodes map[nodeid.ID]*nodeEntry

	stopCleanup chan struct{}
}

// New constructs a Server with cfg; call Listen to start accepting
// connections.
func New(cfg Config) *Server {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	return &Server{
		cfg:         cfg,
		nodes:       make(map[nodeid.ID]*nodeEntry),
		stopCleanup: make(chan struct{}),
	}
}

// Listen binds addr (":8765" for the production fixed port) and starts
// serving WebSocket upgrades in the background. Returns the bound address
// so callers can pass addr ":0" in tests and discover the assigned port.
func (s *Server) Listen(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			util.LogError("signalserver: serve: %v", err)
		}
	}()
	go s.cleanupLoop()

	return listener.Addr(), nil
}

// Close stops accepting connections and shuts down the cleanup loop.
func (s *Server) Close() error {
	close(s.stopCleanup)
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("signalserver: upgrade failed: %v", err)
		return
	}
	go s.serveConnection(conn)
}

// serveConnection runs the full per-connection lifecycle: issue a
// challenge, wait for a valid Announce, register the node, then relay
// until the socket closes.
func (s *Server) serveConnection(conn *websocket.Conn) {
	defer conn.Close()

	nonce := nodeid.Random()
	challengeData, err := wire.Marshal(wire.NewChallenge(1, nonce))
	if err != nil {
		util.LogError("signalserver: marshal challenge: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, challengeData); err != nil {
		return
	}

	info, err := s.awaitAnnounce(conn, nonce)
	if err != nil {
		util.LogWarning("signalserver: handshake failed: %v", err)
		return
	}
	id := info.ID
	defer s.forget(id)

	send := make(chan wire.Envelope, 32)
	s.register(id, info, send, conn)

	done := make(chan struct{})
	go s.writeLoop(conn, send, done)
	s.readLoop(conn, id)
	close(done)
}

func (s *Server) awaitAnnounce(conn *websocket.Conn, nonce nodeid.ID) (nodeid.Info, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nodeid.Info{}, err
	}
	env, err := wire.Unmarshal(data)
	if err != nil {
		return nodeid.Info{}, err
	}
	if env.Kind != wire.KindAnnounce || env.Announce == nil {
		return nodeid.Info{}, errNotAnnounce
	}
	a := env.Announce
	if a.Challenge != nonce {
		return nodeid.Info{}, errBadChallenge
	}
	if err := nodeid.VerifyEd25519(a.NodeInfo.Verifier, nonce[:], a.Signature); err != nil {
		return nodeid.Info{}, err
	}
	if want := nodeid.FromVerifier(a.NodeInfo.Verifier); want != a.NodeInfo.ID {
		return nodeid.Info{}, errIDMismatch
	}
	return a.NodeInfo, nil
}

func (s *Server) register(id nodeid.ID, info nodeid.Info, send chan wire.Envelope, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = &nodeEntry{info: info, lastSeen: time.Now(), send: send, conn: conn}
}

func (s *Server) forget(id nodeid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
}

func (s *Server) writeLoop(conn *websocket.Conn, send <-chan wire.Envelope, done <-chan struct{}) {
	for {
		select {
		case env := <-send:
			data, err := wire.Marshal(env)
			if err != nil {
				util.LogError("signalserver: marshal outgoing envelope: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, id nodeid.ID) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Unmarshal(data)
		if err != nil {
			util.LogWarning("signalserver: dropping malformed envelope from %s: %v", id, err)
			continue
		}
		s.touch(id, env)
		s.dispatch(id, env)
	}
}

func (s *Server) touch(id nodeid.ID, env wire.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.nodes[id]; ok {
		e.lastSeen = time.Now()
		if env.Kind == wire.KindAnnounce && env.Announce != nil {
			e.info = env.Announce.NodeInfo
		}
	}
}

func (s *Server) dispatch(id nodeid.ID, env wire.Envelope) {
	switch env.Kind {
	case wire.KindPeerSetup:
		s.routePeerSetup(id, *env.PeerSetup)
	case wire.KindListIDsRequest:
		s.replyListIDs(id)
	case wire.KindNodeStats:
		// Gossiped liveness stats carried for modules to consume; the
		// signalling server itself has no routing role for these.
	}
}

// routePeerSetup implements spec §4.6's relay rule: look up whichever side
// of the envelope is not the sender and forward it verbatim, or reply with
// an Error to the sender if that peer is unknown.
func (s *Server) routePeerSetup(sender nodeid.ID, setup wire.PeerSetup) {
	target, ok := setup.Remote(sender)
	if !ok {
		s.sendTo(sender, wire.NewError("peer_setup: sender is neither id_init nor id_follow"))
		return
	}
	s.mu.Lock()
	e, ok := s.nodes[target]
	s.mu.Unlock()
	if !ok {
		s.sendTo(sender, wire.NewError("unknown peer"))
		return
	}
	select {
	case e.send <- wire.NewPeerSetup(setup.IDInit, setup.IDFollow, setup.Message):
	default:
		util.LogWarning("signalserver: outbox to %s full, dropping PeerSetup", target)
	}
}

func (s *Server) replyListIDs(requester nodeid.ID) {
	s.mu.Lock()
	infos := make([]nodeid.Info, 0, len(s.nodes))
	for id, e := range s.nodes {
		if id == requester {
			continue
		}
		if s.cfg.SystemRealm != "" && e.info.Realm != s.cfg.SystemRealm {
			continue
		}
		infos = append(infos, e.info)
	}
	s.mu.Unlock()

	if s.cfg.MaxListLen > 0 && len(infos) > s.cfg.MaxListLen {
		infos = infos[:s.cfg.MaxListLen]
	}
	s.sendTo(requester, wire.NewListIDsReply(infos))
}

func (s *Server) sendTo(id nodeid.ID, env wire.Envelope) {
	s.mu.Lock()
	e, ok := s.nodes[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case e.send <- env:
	default:
		util.LogWarning("signalserver: outbox to %s full, dropping %s", id, env)
	}
}

// cleanupLoop evicts nodes that have not been heard from within the
// configured TTL, actively closing their socket so the connection's own
// goroutines unwind instead of leaking an orphaned reader.
func (s *Server) cleanupLoop() {
	interval := s.cfg.TTL / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Server) evictExpired() {
	cutoff := time.Now().Add(-s.cfg.TTL)
	var expired []*nodeEntry
	s.mu.Lock()
	for id, e := range s.nodes {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(s.nodes, id)
		}
	}
	s.mu.Unlock()
	for _, e := range expired {
		e.conn.Close()
	}
}

// NodeCount reports the number of currently registered nodes, for tests and
// diagnostics.
func (s *Server) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}
