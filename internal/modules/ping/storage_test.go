package ping

import (
	"testing"

	"github.com/ineiti/fledger-sub002/internal/nodeid"
)

func TestTickSchedulesAndFailsPeers(t *testing.T) {
	s := NewStorage(Config{Interval: 1, Timeout: 2})
	n1 := nodeid.Random()
	n2 := nodeid.Random()

	s.NewNode(n1)
	if len(s.Stats) != 1 {
		t.Fatalf("expected one tracked node")
	}
	if len(s.Ping) != 1 || s.Ping[0] != n1 {
		t.Fatalf("expected n1 queued for an immediate ping, got %v", s.Ping)
	}

	s.Tick()
	if s.Stats[n1].LastPing != 1 {
		t.Fatalf("expected lastping 1, got %d", s.Stats[n1].LastPing)
	}
	s.Tick()
	if s.Stats[n1].LastPing != 2 {
		t.Fatalf("expected lastping 2, got %d", s.Stats[n1].LastPing)
	}
	s.Tick()
	if len(s.Stats) != 0 {
		t.Fatalf("expected n1 evicted after interval+timeout ticks, got %d remaining", len(s.Stats))
	}
	if len(s.Failed) != 1 || s.Failed[0] != n1 {
		t.Fatalf("expected n1 reported failed, got %v", s.Failed)
	}

	s.NewNode(n1)
	s.Pong(n1)
	if s.Stats[n1].LastPing != 0 || s.Stats[n1].RX != 1 {
		t.Fatalf("expected pong to reset lastping and count rx, got %+v", s.Stats[n1])
	}
	s.Tick()
	s.Tick()

	s.NewNode(n2)
	if len(s.Stats) != 2 {
		t.Fatalf("expected two tracked nodes")
	}
	s.Tick()
	if len(s.Stats) != 1 {
		t.Fatalf("expected n1 to fail while n2 survives, got %d remaining", len(s.Stats))
	}
	if len(s.Failed) != 1 || s.Failed[0] != n1 {
		t.Fatalf("expected n1 in the failed list, got %v", s.Failed)
	}
}

func TestPongOnUnknownNodeStartsTrackingIt(t *testing.T) {
	s := NewStorage(DefaultConfig())
	id := nodeid.Random()
	s.Pong(id)
	if _, ok := s.Stats[id]; !ok {
		t.Fatalf("expected pong from an unknown node to start tracking it")
	}
}
