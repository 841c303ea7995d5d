// End-to-end scenarios driving the façade through a real signalling server
// and a fake WebRTC transport, so no network or STUN/TURN server is needed.
// Grounded on the teacher's tests/adapter_test.go and tests/protocol_test.go
// pattern of exercising internal packages directly without a process
// boundary.
package tests

import (
	"sync"
	"testing"
	"time"

	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/connection"
	"github.com/ineiti/fledger-sub002/internal/network"
	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/rtc"
	"github.com/ineiti/fledger-sub002/internal/signal"
	"github.com/ineiti/fledger-sub002/internal/signalserver"
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
	outs []network.Out
}

func (l *outputLog) add(o network.Out) {
	l.mu.Lock()
	l.outs = append(l.outs, o)
	l.mu.Unlock()
}

func (l *outputLog) snapshot() []network.Out {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]network.Out, len(l.outs))
	copy(out, l.outs)
	return out
}

func (l *outputLog) count(kind network.OutKind) int {
	n := 0
	for _, o := range l.snapshot() {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

func (l *outputLog) find(kind network.OutKind) (network.Out, bool) {
	for _, o := range l.snapshot() {
		if o.Kind == kind {
			return o, true
		}
	}
	return network.Out{}, false
}

func collect(t *testing.T, n *network.Network) *outputLog {
	t.Helper()
	tap, _, err := n.Broker.GetTapOutSync()
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

type testNode struct {
	info   nodeid.Info
	client *signal.Client
	net    *network.Network
}

func newTestNode(t *testing.T, serverURL string) *testNode {
	t.Helper()
	signer, err := nodeid.NewEd25519Signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	info := nodeid.Info{ID: nodeid.FromVerifier(signer.Verifier()), Name: "e2e-node", Verifier: signer.Verifier()}

	client := signal.New(info, signer, serverURL, signal.NewWSDialer())
	mgr := connection.NewManager(info.ID, rtc.NewFakeFactory(), rtc.ConnectionConfig{})
	n := network.New(info.ID, mgr, client, nil)
	return &testNode{info: info, client: client, net: n}
}

func startSignalServer(t *testing.T, cfg signalserver.Config) string {
	t.Helper()
	s := signalserver.New(cfg)
	addr, err := s.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return "ws://" + addr.String() + "/"
}

// Scenario 1: two-node exchange.
func TestTwoNodeExchange(t *testing.T) {
	url := startSignalServer(t, signalserver.Config{TTL: time.Minute})
	a := newTestNode(t, url)
	b := newTestNode(t, url)

	logB := collect(t, b.net)

	w, err := wire.WrapYAML("test", "hello")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := a.net.Broker.EmitMsgIn(network.In{Kind: network.InMessageToNode, Peer: b.info.ID, Wrapper: w}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		out, ok := logB.find(network.OutMessageFromNode)
		return ok && out.Peer == a.info.ID && out.Wrapper.Module == "test"
	})
	if n := logB.count(network.OutMessageFromNode); n != 1 {
		t.Fatalf("expected exactly one delivery, got %d", n)
	}
}

// Scenario 2: reconnect loop — ten send-then-disconnect cycles; each ping
// must reach B before A disconnects, and all ten must be delivered.
func TestReconnectLoop(t *testing.T) {
	url := startSignalServer(t, signalserver.Config{TTL: time.Minute})
	a := newTestNode(t, url)
	b := newTestNode(t, url)

	logA := collect(t, a.net)
	logB := collect(t, b.net)

	for i := 0; i < 10; i++ {
		w, err := wire.WrapYAML("test", "ping")
		if err != nil {
			t.Fatalf("wrap: %v", err)
		}
		if err := a.net.Broker.EmitMsgIn(network.In{Kind: network.InMessageToNode, Peer: b.info.ID, Wrapper: w}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		waitFor(t, 3*time.Second, func() bool {
			return logB.count(network.OutMessageFromNode) == i+1
		})
		if err := a.net.Broker.EmitMsgIn(network.In{Kind: network.InDisconnect, Peer: b.info.ID}); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
		waitFor(t, 3*time.Second, func() bool {
			return logA.count(network.OutDisconnected) == i+1
		})
	}

	msgs := 0
	for _, o := range logB.snapshot() {
		if o.Kind == network.OutMessageFromNode {
			msgs++
		}
	}
	if msgs != 10 {
		t.Fatalf("expected 10 pings delivered, got %d", msgs)
	}
}

// Scenario 3: signalling list — three nodes announce, one requests the list
// and gets back the other two, self excluded.
func TestSignallingListExcludesSelf(t *testing.T) {
	url := startSignalServer(t, signalserver.Config{TTL: time.Minute})
	x := newTestNode(t, url)
	y := newTestNode(t, url)
	z := newTestNode(t, url)
	_ = y
	_ = z

	logX := collect(t, x.net)
	time.Sleep(50 * time.Millisecond) // let all three finish announcing

	if err := x.net.Broker.EmitMsgIn(network.In{Kind: network.InWSUpdateListRequest}); err != nil {
		t.Fatalf("list request: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		out, ok := logX.find(network.OutNodeListFromWS)
		return ok && len(out.Nodes) == 2
	})
	out, _ := logX.find(network.OutNodeListFromWS)
	for _, info := range out.Nodes {
		if info.ID == x.info.ID {
			t.Fatalf("list included the requester itself")
		}
	}
}

// Scenario 4: server TTL eviction — a node's socket is closed, the sweep
// runs, and a subsequent list request from a second node sees zero entries.
func TestServerTTLEviction(t *testing.T) {
	url := startSignalServer(t, signalserver.Config{TTL: 20 * time.Millisecond})
	a := newTestNode(t, url)
	b := newTestNode(t, url)

	time.Sleep(30 * time.Millisecond)
	a.client.Close()

	// Give the cleanup loop (interval = TTL/4) at least one full sweep.
	time.Sleep(100 * time.Millisecond)

	logB := collect(t, b.net)
	if err := b.net.Broker.EmitMsgIn(network.In{Kind: network.InWSUpdateListRequest}); err != nil {
		t.Fatalf("list request: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		out, ok := logB.find(network.OutNodeListFromWS)
		return ok && len(out.Nodes) == 0
	})
}

// Scenario 5: broker settle fence — N inputs emitted without awaiting, then
// Settle, then the tap must have observed exactly N outputs in order.
func TestBrokerSettleFence(t *testing.T) {
	const n = 50
	b := broker.New[int, int]()
	if _, err := b.AddHandler(broker.HandlerFunc[int, int](func(in []int) []int {
		return append([]int(nil), in...)
	})); err != nil {
		t.Fatalf("add handler: %v", err)
	}
	tap, _, err := b.GetTapOutSync()
	if err != nil {
		t.Fatalf("tap: %v", err)
	}

	var got []int
	done := make(chan struct{})
	go func() {
		for v := range tap {
			got = append(got, v)
		}
		close(done)
	}()

	for i := 0; i < n; i++ {
		if err := b.EmitMsgIn(i); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	if err := broker.SettleTimeout(2*time.Second, b); err != nil {
		t.Fatalf("settle: %v", err)
	}
	b.Close()
	<-done

	if len(got) != n {
		t.Fatalf("expected %d outputs, got %d", n, len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("output %d out of order: got %d", i, v)
		}
	}
}

// Scenario 6: TURN URL parsing.
func TestTurnURLParsing(t *testing.T) {
	host, err := rtc.ParseHostLogin("alice:s3cret@turn:example.org:3478")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := rtc.HostLogin{URL: "turn:example.org:3478", User: "alice", Pass: "s3cret"}
	if host != want {
		t.Fatalf("got %+v, want %+v", host, want)
	}

	if _, err := rtc.ParseHostLogin("alice:@turn:example.org:3478"); err == nil {
		t.Fatalf("expected parse failure for empty password")
	}
}
