package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/util"
	"github.com/ineiti/fledger-sub002/internal/wire"
)

// ErrHandshake is returned when a signalling server's first message is not
// a well-formed Challenge.
var ErrHandshake = fmt.Errorf("signal: server did not open with a valid challenge")

// minReconnectBackoff is the floor on how often the client will dial again
// after a disconnect, whether the disconnect was a transport error or an
// explicit InReconnect.
const minReconnectBackoff = 10 * time.Second

// InKind tags the command stream a Client accepts.
type InKind string

const (
	InSend      InKind = "send"
	InReconnect InKind = "reconnect"
)

// In is one command delivered to the Client's broker.
type In struct {
	Kind     InKind
	Envelope wire.Envelope
}

// OutKind tags the event stream a Client emits.
type OutKind string

const (
	OutRecv         OutKind = "recv"
	OutConnected    OutKind = "connected"
	OutDisconnected OutKind = "disconnected"
	OutError        OutKind = "error"
)

// Out is one event produced by the Client's broker.
type Out struct {
	Kind     OutKind
	Envelope wire.Envelope
	Err      string
}

// Client is the signalling client broker (spec §4.2, C2): it owns the
// websocket connection to a signalling server, performs the
// challenge/announce handshake transparently on every (re)connect, and
// relays every other envelope through to its Broker's output stream.
type Client struct {
	url    string
	dialer Dialer
	info   nodeid.Info
	signer nodeid.Signer

	Broker *broker.Broker[In, Out]

	mu          sync.Mutex
	conn        Transport
	lastAttempt time.Time
	closed      bool
	backoff     time.Duration
}

// New constructs a Client for the signalling server at url, identifying
// itself with info and proving ownership of info.Verifier via signer. The
// connect loop starts immediately in the background.
func New(info nodeid.Info, signer nodeid.Signer, url string, dialer Dialer) *Client {
	c := &Client{
		url:     url,
		dialer:  dialer,
		info:    info,
		signer:  signer,
		backoff: minReconnectBackoff,
	}
	c.Broker = broker.New[In, Out]()
	if _, err := c.Broker.AddHandler(broker.HandlerFunc[In, Out](c.handle)); err != nil {
		util.LogError("signal: registering client handler: %v", err)
	}
	go c.run()
	return c
}

func (c *Client) handle(in []In) []Out {
	for _, msg := range in {
		switch msg.Kind {
		case InSend:
			c.send(msg.Envelope)
		case InReconnect:
			c.triggerReconnect()
		}
	}
	return nil
}

// Close stops the connect loop and releases the underlying transport.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.Broker.Close()
}

// run is the client's connect loop: dial, handshake, relay until the
// transport fails or Close is called, wait out the reconnect floor, repeat.
// Grounded on the teacher's signaling.go EstablishAsClient loop, generalized
// from a one-shot WebRTC negotiation to an indefinitely-reconnecting
// envelope relay.
func (c *Client) run() {
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.waitBackoff()

		c.mu.Lock()
		c.lastAttempt = time.Now()
		c.mu.Unlock()

		conn, err := c.dialer.Dial(context.Background(), c.url)
		if err != nil {
			c.Broker.EmitMsgOut(Out{Kind: OutError, Err: err.Error()})
			continue
		}
		if err := c.handshake(conn); err != nil {
			c.Broker.EmitMsgOut(Out{Kind: OutError, Err: err.Error()})
			conn.Close()
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.Broker.EmitMsgOut(Out{Kind: OutConnected})

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		closed = c.closed
		c.mu.Unlock()
		c.Broker.EmitMsgOut(Out{Kind: OutDisconnected})
		if closed {
			return
		}
	}
}

func (c *Client) waitBackoff() {
	c.mu.Lock()
	last := c.lastAttempt
	backoff := c.backoff
	c.mu.Unlock()
	if last.IsZero() {
		return
	}
	if elapsed := time.Since(last); elapsed < backoff {
		time.Sleep(backoff - elapsed)
	}
}

// handshake performs the server-initiated challenge/announce exchange: the
// server must speak first with a Challenge, which the client answers by
// signing the nonce and sending back its NodeInfo (spec §4.2/§6).
func (c *Client) handshake(conn Transport) error {
	data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("signal: reading challenge: %w", err)
	}
	env, err := wire.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if env.Kind != wire.KindChallenge || env.Challenge == nil {
		return ErrHandshake
	}
	sig, err := c.signer.Sign(env.Challenge.Nonce[:])
	if err != nil {
		return fmt.Errorf("signal: signing challenge: %w", err)
	}
	announce := wire.NewAnnounce(env.Challenge.Version, env.Challenge.Nonce, c.info, sig)
	return c.writeEnvelope(conn, announce)
}

// readLoop relays every envelope received on conn to the Broker's output
// stream until conn errors, at which point it closes conn and returns.
func (c *Client) readLoop(conn Transport) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		env, err := wire.Unmarshal(data)
		if err != nil {
			util.LogWarning("signal: dropping malformed envelope: %v", err)
			continue
		}
		c.Broker.EmitMsgOut(Out{Kind: OutRecv, Envelope: env})
	}
}

// send writes env to the live connection, if any; with no live connection
// the envelope is dropped with a warning, matching the broker's general
// "no silent queuing across a torn-down transport" posture.
func (c *Client) send(env wire.Envelope) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		util.LogWarning("signal: send with no live connection, dropping %s", env)
		return
	}
	if err := c.writeEnvelope(conn, env); err != nil {
		util.LogWarning("signal: write failed, closing connection: %v", err)
		conn.Close()
	}
}

func (c *Client) writeEnvelope(conn Transport, env wire.Envelope) error {
	data, err := wire.Marshal(env)
	if err != nil {
		return fmt.Errorf("signal: encoding envelope: %w", err)
	}
	return conn.WriteMessage(data)
}

// triggerReconnect closes the live connection, if any, so the run loop's
// read fails and it re-dials after waiting out the reconnect floor. A
// reconnect requested while already disconnected is a no-op: the loop is
// already on its way back in.
func (c *Client) triggerReconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
