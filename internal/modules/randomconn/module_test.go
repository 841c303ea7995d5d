package randomconn

import (
	"sync"
	"testing"
	"time"

	"github.com/ineiti/fledger-sub002/internal/nodeid"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type outLog struct {
	mu   sync.Mutex
	outs []Out
}

func (l *outLog) add(o Out) {
	l.mu.Lock()
	l.outs = append(l.outs, o)
	l.mu.Unlock()
}

func (l *outLog) snapshot() []Out {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Out, len(l.outs))
	copy(out, l.outs)
	return out
}

func collect(t *testing.T, m *Module) *outLog {
	t.Helper()
	tap, _, err := m.Broker.GetTapOutSync()
	if err != nil {
		t.Fatalf("tap: %v", err)
	}
	log := &outLog{}
	go func() {
		for out := range tap {
			log.add(out)
		}
	}()
	return log
}

func TestNodeListTriggersConnectDecisions(t *testing.T) {
	m := New(Config{Target: 2})
	log := collect(t, m)
	a, b, c := nodeid.Random(), nodeid.Random(), nodeid.Random()

	if err := m.Broker.EmitMsgIn(In{Kind: InNodeList, Ids: []nodeid.ID{a, b, c}}); err != nil {
		t.Fatalf("node list: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		n := 0
		for _, o := range log.snapshot() {
			if o.Kind == OutConnect {
				n++
			}
		}
		return n == 2
	})
}

func TestNodeGoingAwayTriggersDisconnect(t *testing.T) {
	m := New(Config{Target: 1})
	log := collect(t, m)
	a := nodeid.Random()

	emit := func(in In) {
		if err := m.Broker.EmitMsgIn(in); err != nil {
			t.Fatalf("emit %+v: %v", in, err)
		}
	}
	emit(In{Kind: InNodeList, Ids: []nodeid.ID{a}})
	emit(In{Kind: InConnected, Peer: a})
	emit(In{Kind: InNodeList, Ids: nil})

	waitFor(t, time.Second, func() bool {
		for _, o := range log.snapshot() {
			if o.Kind == OutDisconnect && o.Peer == a {
				return true
			}
		}
		return false
	})
}
