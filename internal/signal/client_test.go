package signal

import (
	"sync"
	"testing"
	"time"

	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/wire"
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

type outputLog struct {
	mu   sync.Mutex
	outs []Out
}

func (l *outputLog) add(o Out) {
	l.mu.Lock()
	l.outs = append(l.outs, o)
	l.mu.Unlock()
}

func (l *outputLog) snapshot() []Out {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Out, len(l.outs))
	copy(out, l.outs)
	return out
}

func (l *outputLog) has(kind OutKind) bool {
	for _, o := range l.snapshot() {
		if o.Kind == kind {
			return true
		}
	}
	return false
}

func collectOutputs(t *testing.T, c *Client) *outputLog {
	t.Helper()
	tap, _, err := c.Broker.GetTapOutSync()
	if err != nil {
		t.Fatalf("tap: %v", err)
	}
	log := &outputLog{}
	go func() {
		for out := range tap {
			log.add(out)
		}
	}()
	return log
}

// serveChallenge plays the signalling server's side of a FakeTransport: send
// a Challenge immediately, then relay whatever the client writes onto sent.
func serveChallenge(t *testing.T, srv *FakeTransport, nonce nodeid.ID) chan wire.Envelope {
	t.Helper()
	sent := make(chan wire.Envelope, 8)
	challenge, err := wire.Marshal(wire.NewChallenge(1, nonce))
	if err != nil {
		t.Fatalf("marshal challenge: %v", err)
	}
	if err := srv.WriteMessage(challenge); err != nil {
		t.Fatalf("write challenge: %v", err)
	}
	go func() {
		for {
			data, err := srv.ReadMessage()
			if err != nil {
				close(sent)
				return
			}
			env, err := wire.Unmarshal(data)
			if err != nil {
				continue
			}
			sent <- env
		}
	}()
	return sent
}

func newTestSigner(t *testing.T) (*nodeid.Ed25519Signer, nodeid.Info) {
	t.Helper()
	signer, err := nodeid.NewEd25519Signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	info := nodeid.Info{ID: nodeid.FromVerifier(signer.Verifier()), Name: "n", Verifier: signer.Verifier()}
	return signer, info
}

func TestHandshakeOnConnectProducesAnnounce(t *testing.T) {
	signer, info := newTestSigner(t)
	client, server := NewFakeTransportPair()
	nonce := nodeid.Random()
	sent := serveChallenge(t, server, nonce)

	dialer := NewFakeDialer(func() (Transport, error) { return client, nil })
	c := New(info, signer, "fake://signal", dialer)
	defer c.Close()

	log := collectOutputs(t, c)
	waitFor(t, time.Second, func() bool { return log.has(OutConnected) })

	select {
	case env := <-sent:
		if env.Kind != wire.KindAnnounce || env.Announce == nil {
			t.Fatalf("expected an Announce, got %+v", env)
		}
		if env.Announce.NodeInfo.ID != info.ID {
			t.Fatalf("expected announce to carry local NodeInfo, got %+v", env.Announce.NodeInfo)
		}
		if err := nodeid.VerifyEd25519(signer.Verifier(), nonce[:], env.Announce.Signature); err != nil {
			t.Fatalf("announce signature does not verify: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received an Announce")
	}
}

func TestRecvRelaysServerEnvelopes(t *testing.T) {
	signer, info := newTestSigner(t)
	client, server := NewFakeTransportPair()
	serveChallenge(t, server, nodeid.Random())

	dialer := NewFakeDialer(func() (Transport, error) { return client, nil })
	c := New(info, signer, "fake://signal", dialer)
	defer c.Close()

	log := collectOutputs(t, c)
	waitFor(t, time.Second, func() bool { return log.has(OutConnected) })

	data, err := wire.Marshal(wire.NewListIDsReply([]nodeid.Info{info}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := server.WriteMessage(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		for _, o := range log.snapshot() {
			if o.Kind == OutRecv && o.Envelope.Kind == wire.KindListIDsReply {
				return true
			}
		}
		return false
	})
}

func TestSendWritesEnvelopeToTransport(t *testing.T) {
	signer, info := newTestSigner(t)
	client, server := NewFakeTransportPair()
	sent := serveChallenge(t, server, nodeid.Random())

	dialer := NewFakeDialer(func() (Transport, error) { return client, nil })
	c := New(info, signer, "fake://signal", dialer)
	defer c.Close()

	log := collectOutputs(t, c)
	waitFor(t, time.Second, func() bool { return log.has(OutConnected) })

	peer := nodeid.Random()
	env := wire.NewPeerSetup(info.ID, peer, wire.PeerMessage{Kind: wire.PeerInit})
	if err := c.Broker.EmitMsgIn(In{Kind: InSend, Envelope: env}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		select {
		case got, ok := <-sent:
			return ok && got.Kind == wire.KindPeerSetup
		default:
			return false
		}
	})
}

func TestReconnectsAfterTransportFailure(t *testing.T) {
	signer, info := newTestSigner(t)
	first, firstServer := NewFakeTransportPair()
	serveChallenge(t, firstServer, nodeid.Random())
	second, secondServer := NewFakeTransportPair()
	serveChallenge(t, secondServer, nodeid.Random())

	calls := 0
	dialer := NewFakeDialer(func() (Transport, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		return second, nil
	})

	c := New(info, signer, "fake://signal", dialer)
	c.backoff = 5 * time.Millisecond
	defer c.Close()

	log := collectOutputs(t, c)
	waitFor(t, time.Second, func() bool { return log.has(OutConnected) })

	first.Close()

	waitFor(t, time.Second, func() bool { return dialer.DialCount() >= 2 })
	waitFor(t, time.Second, func() bool {
		count := 0
		for _, o := range log.snapshot() {
			if o.Kind == OutConnected {
				count++
			}
		}
		return count >= 2
	})
}

func TestExplicitReconnectRedials(t *testing.T) {
	signer, info := newTestSigner(t)
	first, firstServer := NewFakeTransportPair()
	serveChallenge(t, firstServer, nodeid.Random())
	second, secondServer := NewFakeTransportPair()
	serveChallenge(t, secondServer, nodeid.Random())

	calls := 0
	dialer := NewFakeDialer(func() (Transport, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		return second, nil
	})

	c := New(info, signer, "fake://signal", dialer)
	c.backoff = 5 * time.Millisecond
	defer c.Close()

	log := collectOutputs(t, c)
	waitFor(t, time.Second, func() bool { return log.has(OutConnected) })

	if err := c.Broker.EmitMsgIn(In{Kind: InReconnect}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	waitFor(t, time.Second, func() bool { return dialer.DialCount() >= 2 })
}
