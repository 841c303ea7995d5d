// Package randomconn is a target-fan-out sample module that exercises C5
// and C4 together: it keeps a roughly-constant number of active
// connections open out of the set of known peers, issuing Connect and
// Disconnect to the façade as the known set changes. Grounded on
// original_source/flmodules/src/random_connections/{core,nodes,broker}.rs,
// simplified from the original's churn/logarithmic-fanout scheme to a flat
// target count — the real fledger gossip/DHT modules sit on top of exactly
// this kind of broker.
package randomconn

import "github.com/ineiti/fledger-sub002/internal/nodeid"

// Config names the desired number of simultaneously active connections.
type Config struct {
	Target int
}

// Storage tracks the known peer set and which of them are currently
// connected or have a pending Connect in flight.
type Storage struct {
	cfg        Config
	known      map[nodeid.ID]struct{}
	connected  map[nodeid.ID]struct{}
	connecting map[nodeid.ID]struct{}
}

func NewStorage(cfg Config) *Storage {
	return &Storage{
		cfg:        cfg,
		known:      make(map[nodeid.ID]struct{}),
		connected:  make(map[nodeid.ID]struct{}),
		connecting: make(map[nodeid.ID]struct{}),
	}
}

// SetKnown replaces the known peer set with ids, the Go analogue of the
// original's new_list merge (here a wholesale replacement, since
// NodeListFromWS always reports the server's current full view).
func (s *Storage) SetKnown(ids []nodeid.ID) {
	known := make(map[nodeid.ID]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	s.known = known
}

// OnConnected moves id from connecting to connected.
func (s *Storage) OnConnected(id nodeid.ID) {
	delete(s.connecting, id)
	s.connected[id] = struct{}{}
}

// OnDisconnected forgets id entirely, so it is free to be reselected if it
// reappears in a later known-set update.
func (s *Storage) OnDisconnected(id nodeid.ID) {
	delete(s.connecting, id)
	delete(s.connected, id)
}

// Reconcile compares the known set against the active count and returns the
// peers to Connect (to reach Target) and to Disconnect (peers no longer in
// the known set at all).
func (s *Storage) Reconcile() (connect, disconnect []nodeid.ID) {
	for id := range s.connected {
		if _, ok := s.known[id]; !ok {
			disconnect = append(disconnect, id)
		}
	}
	for id := range s.connecting {
		if _, ok := s.known[id]; !ok {
			disconnect = append(disconnect, id)
		}
	}

	active := len(s.connected) + len(s.connecting)
	if active >= s.cfg.Target {
		return connect, disconnect
	}
	needed := s.cfg.Target - active
	for id := range s.known {
		if needed == 0 {
			break
		}
		if _, ok := s.connected[id]; ok {
			continue
		}
		if _, ok := s.connecting[id]; ok {
			continue
		}
		s.connecting[id] = struct{}{}
		connect = append(connect, id)
		needed--
	}
	return connect, disconnect
}
