package signalserver

import (
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

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

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	s := New(cfg)
	addr, err := s.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fmt.Sprintf("ws://%s/", addr.String())
}

// announcingClient dials url, completes the challenge/announce handshake
// with its own identity, and returns the raw connection plus that identity.
func announcingClient(t *testing.T, url, name, realm string) (*websocket.Conn, nodeid.Info) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	env, err := wire.Unmarshal(data)
	if err != nil || env.Kind != wire.KindChallenge {
		t.Fatalf("expected challenge, got %+v err=%v", env, err)
	}

	signer, err := nodeid.NewEd25519Signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	info := nodeid.Info{
		ID:       nodeid.FromVerifier(signer.Verifier()),
		Name:     name,
		Realm:    realm,
		Verifier: signer.Verifier(),
	}
	sig, err := signer.Sign(env.Challenge.Nonce[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	announce, err := wire.Marshal(wire.NewAnnounce(env.Challenge.Version, env.Challenge.Nonce, info, sig))
	if err != nil {
		t.Fatalf("marshal announce: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, announce); err != nil {
		t.Fatalf("write announce: %v", err)
	}
	return conn, info
}

func TestHandshakeRegistersNode(t *testing.T) {
	s, url := startServer(t, Config{TTL: time.Minute})
	conn, info := announcingClient(t, url, "alice", "")
	defer conn.Close()
	_ = info

	waitFor(t, time.Second, func() bool { return s.NodeCount() == 1 })
}

func TestPeerSetupRelaysBetweenTwoNodes(t *testing.T) {
	_, url := startServer(t, Config{TTL: time.Minute})
	connA, infoA := announcingClient(t, url, "a", "")
	defer connA.Close()
	connB, infoB := announcingClient(t, url, "b", "")
	defer connB.Close()

	setup, err := wire.Marshal(wire.NewPeerSetup(infoA.ID, infoB.ID, wire.PeerMessage{Kind: wire.PeerInit}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := connA.WriteMessage(websocket.TextMessage, setup); err != nil {
		t.Fatalf("write: %v", err)
	}

	connB.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := connB.ReadMessage()
	if err != nil {
		t.Fatalf("read relayed peer_setup: %v", err)
	}
	env, err := wire.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Kind != wire.KindPeerSetup || env.PeerSetup.Message.Kind != wire.PeerInit {
		t.Fatalf("expected a relayed Init PeerSetup, got %+v", env)
	}
}

func TestPeerSetupToUnknownPeerReturnsError(t *testing.T) {
	_, url := startServer(t, Config{TTL: time.Minute})
	conn, info := announcingClient(t, url, "a", "")
	defer conn.Close()

	stranger := nodeid.Random()
	setup, err := wire.Marshal(wire.NewPeerSetup(info.ID, stranger, wire.PeerMessage{Kind: wire.PeerInit}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	env, err := wire.Unmarshal(data)
	if err != nil || env.Kind != wire.KindError {
		t.Fatalf("expected an Error envelope, got %+v err=%v", env, err)
	}
}

func TestListIDsRequestFiltersBySystemRealmAndCap(t *testing.T) {
	_, url := startServer(t, Config{TTL: time.Minute, SystemRealm: "prod", MaxListLen: 1})
	requester, _ := announcingClient(t, url, "requester", "prod")
	defer requester.Close()
	inRealm, inRealmInfo := announcingClient(t, url, "in-realm", "prod")
	defer inRealm.Close()
	outRealm, _ := announcingClient(t, url, "out-of-realm", "dev")
	defer outRealm.Close()

	time.Sleep(20 * time.Millisecond) // let all three connections finish registering

	req, err := wire.Marshal(wire.NewListIDsRequest())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := requester.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	requester.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := requester.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	env, err := wire.Unmarshal(data)
	if err != nil || env.Kind != wire.KindListIDsReply {
		t.Fatalf("expected a ListIDsReply, got %+v err=%v", env, err)
	}
	if len(env.NodeInfos) != 1 {
		t.Fatalf("expected max_list_len to cap the reply at 1, got %d", len(env.NodeInfos))
	}
	if env.NodeInfos[0].ID != inRealmInfo.ID {
		t.Fatalf("expected the single returned entry to be the in-realm node, got %+v", env.NodeInfos[0])
	}
}

func TestTTLEvictsStaleNode(t *testing.T) {
	s, url := startServer(t, Config{TTL: 30 * time.Millisecond})
	conn, _ := announcingClient(t, url, "a", "")
	defer conn.Close()

	waitFor(t, time.Second, func() bool { return s.NodeCount() == 1 })
	waitFor(t, time.Second, func() bool { return s.NodeCount() == 0 })
}
