package signal

import (
	"context"
	"io"
	"sync"
)

// FakeTransport is an in-process duplex pipe standing in for a websocket
// connection in tests. Two linked instances form the two ends of one
// simulated connection.
type FakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewFakeTransportPair returns the client and server ends of one simulated
// connection: writes to one arrive as reads on the other.
func NewFakeTransportPair() (client, server *FakeTransport) {
	a := make(chan []byte, 32)
	b := make(chan []byte, 32)
	client = &FakeTransport{in: b, out: a, closed: make(chan struct{})}
	server = &FakeTransport{in: a, out: b, closed: make(chan struct{})}
	return client, server
}

func (f *FakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *FakeTransport) WriteMessage(data []byte) error {
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	}
}

func (f *FakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// FakeDialer hands out a pre-built Transport (or a dial error) without
// touching the network, and counts how many times Dial was called so tests
// can assert on reconnect attempts.
type FakeDialer struct {
	mu        sync.Mutex
	next      func() (Transport, error)
	dialCount int
}

// NewFakeDialer returns a Dialer whose every Dial call invokes next to
// produce the next Transport or error.
func NewFakeDialer(next func() (Transport, error)) *FakeDialer {
	return &FakeDialer{next: next}
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.dialCount++
	d.mu.Unlock()
	return d.next()
}

// DialCount reports how many Dial calls this dialer has served.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}
