// Package broker implements the generic asynchronous message bus every
// fledger module is built on: a typed mailbox with input type I and output
// type O, pluggable handlers, taps, and translators that wire brokers
// together into a dataflow graph.
package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ineiti/fledger-sub002/internal/util"
)

// Errors returned by broker operations. Configuration and wiring errors are
// meant to bubble up to the caller; transport/protocol errors are handled
// locally by the component that owns the broker.
var (
	ErrClosed          = errors.New("broker: closed")
	ErrUnknownSubsystem = errors.New("broker: unknown subsystem")
	ErrLinkedBrokers   = errors.New("broker: translator would create a cycle")
	ErrSettleTimeout   = errors.New("broker: settle deadline exceeded")
)

// tapQueueCap bounds the buffered channel behind every tap. Once full, the
// oldest pending message is dropped with a warning rather than blocking the
// broker's round loop — see spec §5 "Backpressure".
const tapQueueCap = 1024

// Handler processes one round's worth of input messages and returns the
// output messages produced in response. Messages is invoked with the full
// batch of inputs queued since the previous round; implementations must not
// block the scheduler (I/O inside Messages is fine — the broker that owns it
// runs its round loop on a dedicated goroutine).
type Handler[I, O any] interface {
	Messages(in []I) []O
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc[I, O any] func(in []I) []O

// Messages implements Handler.
func (f HandlerFunc[I, O]) Messages(in []I) []O { return f(in) }

// Settleable is the type-erased half of Broker used by Settle so that
// brokers with different I/O type parameters can be awaited together.
type Settleable interface {
	snapshotEnqueued() int64
	processedCount() int64
	id() uuid.UUID
}

// Broker is a typed asynchronous mailbox. The zero value is not usable; use
// New to construct one.
type Broker[I, O any] struct {
	brokerID uuid.UUID

	mu        sync.Mutex
	nextIdx   int
	handlers  map[int]Handler[I, O]
	tapsIn    map[int]chan I
	tapsOut   map[int]chan O
	stopFns   map[int]func()
	pendingIn []I
	closed    bool

	enqueued  atomic.Int64
	processed atomic.Int64

	wake    chan struct{}
	closeCh chan struct{}
	done    chan struct{}
}

// New creates an empty broker and starts its round-processing goroutine.
func New[I, O any]() *Broker[I, O] {
	b := &Broker[I, O]{
		brokerID: uuid.New(),
		handlers: make(map[int]Handler[I, O]),
		tapsIn:   make(map[int]chan I),
		tapsOut:  make(map[int]chan O),
		stopFns:  make(map[int]func()),
		wake:     make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.loop()
	return b
}

// ID returns the broker's opaque identity, used for deduplication when the
// same broker is reachable through more than one translator path.
func (b *Broker[I, O]) ID() uuid.UUID { return b.brokerID }

func (b *Broker[I, O]) id() uuid.UUID            { return b.brokerID }
func (b *Broker[I, O]) snapshotEnqueued() int64  { return b.enqueued.Load() }
func (b *Broker[I, O]) processedCount() int64    { return b.processed.Load() }

// AddHandler registers a handler; the broker owns it for the rest of its
// lifetime unless RemoveSubsystem is called.
func (b *Broker[I, O]) AddHandler(h Handler[I, O]) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	idx := b.allocIdx()
	b.handlers[idx] = h
	return idx, nil
}

// GetTapInSync attaches a non-intrusive observer of the input stream. The
// returned channel receives every input message enqueued from this point
// on; the returned index can be passed to RemoveSubsystem to detach it.
func (b *Broker[I, O]) GetTapInSync() (<-chan I, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, 0, ErrClosed
	}
	idx := b.allocIdx()
	ch := make(chan I, tapQueueCap)
	b.tapsIn[idx] = ch
	return ch, idx, nil
}

// GetTapOutSync attaches a non-intrusive observer of the output stream.
func (b *Broker[I, O]) GetTapOutSync() (<-chan O, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, 0, ErrClosed
	}
	idx := b.allocIdx()
	ch := make(chan O, tapQueueCap)
	b.tapsOut[idx] = ch
	return ch, idx, nil
}

// RemoveSubsystem removes a tap, translator, or handler previously added to
// this broker.
func (b *Broker[I, O]) RemoveSubsystem(idx int) error {
	b.mu.Lock()
	if stop, ok := b.stopFns[idx]; ok {
		delete(b.stopFns, idx)
		b.mu.Unlock()
		stop()
		return nil
	}
	_, isHandler := b.handlers[idx]
	_, isTapIn := b.tapsIn[idx]
	_, isTapOut := b.tapsOut[idx]
	if !isHandler && !isTapIn && !isTapOut {
		b.mu.Unlock()
		return ErrUnknownSubsystem
	}
	delete(b.handlers, idx)
	if ch, ok := b.tapsIn[idx]; ok {
		delete(b.tapsIn, idx)
		close(ch)
	}
	if ch, ok := b.tapsOut[idx]; ok {
		delete(b.tapsOut, idx)
		close(ch)
	}
	b.mu.Unlock()
	return nil
}

// allocIdx returns a dense integer never reused for the lifetime of the
// broker, per the spec's "Broker identity" invariant. Caller must hold mu.
func (b *Broker[I, O]) allocIdx() int {
	idx := b.nextIdx
	b.nextIdx++
	return idx
}

// EmitMsgIn pushes a message into the input stream for the next round.
func (b *Broker[I, O]) EmitMsgIn(msg I) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pendingIn = append(b.pendingIn, msg)
	b.mu.Unlock()
	b.enqueued.Add(1)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// EmitMsgOut injects a message directly into the output stream, bypassing
// handlers. Used by translators and by code that synthesizes an output
// without a corresponding input (e.g. a timer tick).
func (b *Broker[I, O]) EmitMsgOut(msg O) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()
	b.dispatchOutputs([]O{msg})
	b.enqueued.Add(1)
	b.processed.Add(1)
	return nil
}

// Close shuts down the broker's round loop. Further emissions fail with
// ErrClosed.
func (b *Broker[I, O]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.tapsIn {
		close(ch)
	}
	for _, ch := range b.tapsOut {
		close(ch)
	}
	b.tapsIn = map[int]chan I{}
	b.tapsOut = map[int]chan O{}
	b.mu.Unlock()
	close(b.closeCh)
	<-b.done
}

func (b *Broker[I, O]) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.closeCh:
			return
		case <-b.wake:
		}
		for {
			batch := b.drain()
			if len(batch) == 0 {
				break
			}
			b.deliverTapsIn(batch)
			outs := b.runHandlers(batch)
			b.processed.Add(int64(len(batch)))
			if len(outs) > 0 {
				b.dispatchOutputs(outs)
			}
		}
	}
}

func (b *Broker[I, O]) drain() []I {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pendingIn) == 0 {
		return nil
	}
	batch := b.pendingIn
	b.pendingIn = nil
	return batch
}

func (b *Broker[I, O]) runHandlers(batch []I) []O {
	b.mu.Lock()
	handlers := make([]Handler[I, O], 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	var outs []O
	for _, h := range handlers {
		outs = append(outs, h.Messages(batch)...)
	}
	return outs
}

func (b *Broker[I, O]) deliverTapsIn(batch []I) {
	b.mu.Lock()
	taps := make([]chan I, 0, len(b.tapsIn))
	for _, ch := range b.tapsIn {
		taps = append(taps, ch)
	}
	b.mu.Unlock()

	for _, ch := range taps {
		for _, m := range batch {
			sendDropOldest(ch, m)
		}
	}
}

func (b *Broker[I, O]) dispatchOutputs(outs []O) {
	b.mu.Lock()
	taps := make([]chan O, 0, len(b.tapsOut))
	for _, ch := range b.tapsOut {
		taps = append(taps, ch)
	}
	b.mu.Unlock()

	for _, ch := range taps {
		for _, m := range outs {
			sendDropOldest(ch, m)
		}
	}
}

// sendDropOldest enqueues msg on ch, dropping the oldest queued message and
// logging a warning if ch is already at capacity — the "drop oldest, warn"
// queue-overflow policy fixed by the spec.
func sendDropOldest[T any](ch chan T, msg T) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
		util.LogWarning("broker: tap queue full, dropping oldest message")
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

// Settle blocks until every message enqueued into the named brokers before
// this call has been observed by every handler and tap of that broker. It
// establishes a happens-before fence used by tests (and by code that must
// wait for the effect of an emission) without any side effects if ctx
// expires first.
func Settle(ctx context.Context, brokers ...Settleable) error {
	targets := make([]int64, len(brokers))
	for i, br := range brokers {
		targets[i] = br.snapshotEnqueued()
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		done := true
		for i, br := range brokers {
			if br.processedCount() < targets[i] {
				done = false
				break
			}
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrSettleTimeout
		case <-ticker.C:
		}
	}
}

// SettleTimeout is a convenience wrapper around Settle using a plain
// duration instead of a context.
func SettleTimeout(d time.Duration, brokers ...Settleable) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return Settle(ctx, brokers...)
}
