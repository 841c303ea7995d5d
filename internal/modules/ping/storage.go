// Package ping is a liveness-checking sample module that exercises the
// network façade end-to-end: it periodically pings every known peer and
// declares a peer failed once it misses enough consecutive ticks, grounded
// on original_source/flmodules/src/ping/{storage,messages,broker}.rs.
package ping

import "github.com/ineiti/fledger-sub002/internal/nodeid"

// Config controls the tick cadence: Interval ticks of silence before a peer
// is re-pinged, Timeout further ticks before it is declared failed.
type Config struct {
	Interval uint32
	Timeout  uint32
}

// DefaultConfig matches the original's Default impl.
func DefaultConfig() Config {
	return Config{Interval: 5, Timeout: 10}
}

// Stat tracks one peer's liveness bookkeeping.
type Stat struct {
	LastPing uint32
	RX       uint32
	TX       uint32
}

// Storage is the pure state machine behind the module: nodes known, their
// stats, and the pending-ping/failed lists produced by the most recent
// Tick. Kept separate from the broker plumbing so it is trivially unit
// testable, matching the original's storage.rs/messages.rs split.
type Storage struct {
	cfg    Config
	Stats  map[nodeid.ID]Stat
	Ping   []nodeid.ID
	Failed []nodeid.ID
}

func NewStorage(cfg Config) *Storage {
	return &Storage{cfg: cfg, Stats: make(map[nodeid.ID]Stat)}
}

// NewNode starts tracking id if it isn't already known, and queues an
// immediate ping for it.
func (s *Storage) NewNode(id nodeid.ID) {
	if _, ok := s.Stats[id]; ok {
		return
	}
	s.Stats[id] = Stat{TX: 1}
	s.Ping = append(s.Ping, id)
}

// RemoveNode stops tracking id (used when the façade reports it disconnected).
func (s *Storage) RemoveNode(id nodeid.ID) {
	delete(s.Stats, id)
}

// Pong records a reply from id, resetting its liveness countdown.
func (s *Storage) Pong(id nodeid.ID) {
	stat, ok := s.Stats[id]
	if !ok {
		s.NewNode(id)
		return
	}
	stat.LastPing = 0
	stat.RX++
	s.Stats[id] = stat
}

// Tick advances every tracked peer's countdown by one, re-pinging peers
// that have gone quiet for Interval ticks and declaring failure for peers
// quiet for Interval+Timeout ticks.
func (s *Storage) Tick() {
	s.Ping = s.Ping[:0]
	s.Failed = s.Failed[:0]

	var failed []nodeid.ID
	for id, stat := range s.Stats {
		stat.LastPing++
		switch {
		case stat.LastPing >= s.cfg.Interval+s.cfg.Timeout:
			failed = append(failed, id)
		case stat.LastPing >= s.cfg.Interval:
			stat.TX++
			s.Ping = append(s.Ping, id)
			s.Stats[id] = stat
		default:
			s.Stats[id] = stat
		}
	}
	for _, id := range failed {
		delete(s.Stats, id)
		s.Failed = append(s.Failed, id)
	}
}
