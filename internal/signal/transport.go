// Package signal implements the signalling client (C2): the broker a node
// uses to reach the signalling server over a websocket, perform the
// challenge/announce handshake, and carry PeerSetup/ListIDs envelopes in
// both directions. It is grounded on the teacher's internal/signaling
// package: connect() in ws.go for the dial step, and the sender/receiver
// split in signaling.go/sender.go/receiver.go for the read/write loop
// shape, generalized from the teacher's three-message offer/answer/ice
// union to the full wire.Envelope tagged union.
package signal

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Transport is one live duplex connection to a signalling server, carrying
// already-framed wire.Envelope bytes. It abstracts *websocket.Conn so the
// client can be driven by FakeTransport in tests.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Transport to a signalling server URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials a real websocket connection, mirroring the teacher's
// connect() helper in internal/signaling/ws.go.
type WSDialer struct{}

// NewWSDialer returns the production Dialer.
func NewWSDialer() WSDialer { return WSDialer{} }

// Dial implements Dialer.
func (WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signal: dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (w *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsTransport) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsTransport) Close() error {
	return w.conn.Close()
}
