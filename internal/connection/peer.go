package connection

import (
	"sync"

	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/rtc"
	"github.com/ineiti/fledger-sub002/internal/util"
	"github.com/ineiti/fledger-sub002/internal/wire"
)

// rtcHalf names the broker type a rtc.ConnectionFactory hands back, purely
// to keep the signatures below readable.
type rtcHalf = broker.Broker[rtc.HalfIn, rtc.HalfOut]

// queueCap bounds the send queue buffered while neither half is Open; beyond
// it the oldest payload is dropped with a warning (spec's queue-overflow
// policy).
const queueCap = 1024

// NCInputKind tags the command stream a PeerConnection accepts.
type NCInputKind string

const (
	NCInputSend        NCInputKind = "send"
	NCInputConnect     NCInputKind = "connect"
	NCInputPeerMessage NCInputKind = "peer_message"
	NCInputReset       NCInputKind = "reset"
	NCInputUpdateState NCInputKind = "update_state"
)

// NCInput is one command delivered to a PeerConnection's broker.
type NCInput struct {
	Kind    NCInputKind
	Payload []byte

	// Msg and Remote are populated for NCInputPeerMessage: Remote selects
	// which half the message is addressed to — true for the incoming
	// (Follower) half, false for the outgoing (Initiator) half.
	Msg    wire.PeerMessage
	Remote bool
}

// NCOutputKind tags the event stream a PeerConnection emits.
type NCOutputKind string

const (
	NCOutputText         NCOutputKind = "text"
	NCOutputPeerMessage  NCOutputKind = "peer_message"
	NCOutputConnected    NCOutputKind = "connected"
	NCOutputDisconnected NCOutputKind = "disconnected"
	NCOutputState        NCOutputKind = "state"
)

// NCOutput is one event produced by a PeerConnection's broker.
type NCOutput struct {
	Kind    NCOutputKind
	Payload []byte

	// Msg and Remote mirror NCInput's fields: Remote is true when this
	// PeerMessage was produced by the incoming (Follower) half.
	Msg    wire.PeerMessage
	Remote bool

	State *StateReport
}

// StateReport describes both halves of a PeerConnection, per spec's
// NCInput::UpdateState / NCOutput::State.
type StateReport struct {
	OutgoingState State
	IncomingState State
	Outgoing      rtc.StateMap
	Incoming      rtc.StateMap
}

// PeerConnection is the per-peer entity described in spec.md §3: one
// outgoing half, one incoming half, a send queue, and running byte
// counters. All state is behind mu; the broker's own handler goroutine and
// the per-half tap-consumer goroutines both touch it.
type PeerConnection struct {
	factory rtc.ConnectionFactory
	cfg     rtc.ConnectionConfig

	Broker *broker.Broker[NCInput, NCOutput]

	mu        sync.Mutex
	outgoing  sub
	incoming  sub
	queue     [][]byte
	connected bool
	rxBytes   uint64
	txBytes   uint64
}

// New constructs a PeerConnection with both halves Idle; neither rtc half is
// created until a Send or an inbound Init/Offer starts one.
func New(factory rtc.ConnectionFactory, cfg rtc.ConnectionConfig) *PeerConnection {
	pc := &PeerConnection{
		factory:  factory,
		cfg:      cfg,
		outgoing: newOutgoingSub(),
		incoming: newIncomingSub(),
	}
	pc.Broker = broker.New[NCInput, NCOutput]()
	if _, err := pc.Broker.AddHandler(broker.HandlerFunc[NCInput, NCOutput](pc.handle)); err != nil {
		util.LogError("connection: registering handler: %v", err)
	}
	return pc
}

// Close tears down both halves and the PeerConnection's own broker.
func (pc *PeerConnection) Close() {
	pc.mu.Lock()
	out, in := pc.outgoing.half, pc.incoming.half
	pc.mu.Unlock()
	if out != nil {
		out.Close()
	}
	if in != nil {
		in.Close()
	}
	pc.Broker.Close()
}

// Stats returns the running rx/tx byte counters across both halves.
func (pc *PeerConnection) Stats() (rx, tx uint64) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.rxBytes, pc.txBytes
}

func (pc *PeerConnection) handle(in []NCInput) []NCOutput {
	var outs []NCOutput
	for _, msg := range in {
		switch msg.Kind {
		case NCInputSend:
			outs = append(outs, pc.trySend(msg.Payload)...)
		case NCInputConnect:
			outs = append(outs, pc.connect()...)
		case NCInputPeerMessage:
			pc.handlePeerMessage(msg.Remote, msg.Msg)
		case NCInputReset:
			outs = append(outs, pc.reset()...)
		case NCInputUpdateState:
			pc.requestState()
		}
	}
	return outs
}

// trySend implements the three-step send path of spec §4.3.
func (pc *PeerConnection) trySend(payload []byte) []NCOutput {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if half := pc.openHalfLocked(); half != nil {
		half.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInText, Text: payload})
		pc.txBytes += uint64(len(payload))
		return nil
	}

	pc.enqueueLocked(payload)
	if pc.outgoing.state == Idle && pc.incoming.state == Idle {
		return pc.startOutgoingLocked()
	}
	return nil
}

// connect starts the outgoing handshake eagerly if it hasn't already been
// started, independent of there being a payload to send — this is what
// lets NetworkIn::Connect itself issue an Init rather than only doing so
// as a side effect of the first Send (spec §4.4's "Connect(id)...Connect(id)
// results in a single Connected emission" and the concurrent-Connect race
// law both require Connect to actively open the channel).
func (pc *PeerConnection) connect() []NCOutput {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.outgoing.state != Idle {
		return nil
	}
	return pc.startOutgoingLocked()
}

func (pc *PeerConnection) openHalfLocked() *rtcHalf {
	if pc.outgoing.state == Open {
		return pc.outgoing.half
	}
	if pc.incoming.state == Open {
		return pc.incoming.half
	}
	return nil
}

func (pc *PeerConnection) enqueueLocked(payload []byte) {
	if len(pc.queue) >= queueCap {
		pc.queue = pc.queue[1:]
		util.LogWarning("connection: send queue full, dropping oldest payload")
	}
	pc.queue = append(pc.queue, payload)
}

// startOutgoingLocked begins the outgoing half's handshake: a wire Init is
// emitted as the signalling preamble, and the underlying half is told to
// produce the SDP offer directly (the outgoing/Initiator side is always the
// offerer; see DESIGN.md for why the table in spec §4.3 is read this way).
func (pc *PeerConnection) startOutgoingLocked() []NCOutput {
	pc.ensureHalfLocked(&pc.outgoing)
	pc.outgoing.state = Setup
	pc.outgoing.half.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInInit})
	return []NCOutput{{Kind: NCOutputPeerMessage, Remote: false, Msg: wire.PeerMessage{Kind: wire.PeerInit}}}
}

// ensureHalfLocked creates s's underlying rtc half if it doesn't exist yet.
// Caller must hold pc.mu.
func (pc *PeerConnection) ensureHalfLocked(s *sub) {
	if s.half != nil {
		return
	}
	half, err := pc.factory.NewHalf(pc.cfg, s.role)
	if err != nil {
		util.LogError("connection: creating %s half: %v", s.role, err)
		return
	}
	s.half = half
	pc.watchHalf(s, half)
}

// watchHalf starts the goroutine that relays a half's output events back
// into pc's own state machine and broker. It runs for the lifetime of half.
func (pc *PeerConnection) watchHalf(s *sub, half *rtcHalf) {
	tap, _, err := half.GetTapOutSync()
	if err != nil {
		util.LogError("connection: tapping half output: %v", err)
		return
	}
	go func() {
		for out := range tap {
			pc.onHalfOutput(s, half, out)
		}
	}()
}

func (pc *PeerConnection) onHalfOutput(s *sub, half *rtcHalf, out rtc.HalfOut) {
	switch out.Kind {
	case rtc.HalfOutOffer:
		pc.Broker.EmitMsgOut(NCOutput{Kind: NCOutputPeerMessage, Remote: s.remote, Msg: wire.PeerMessage{Kind: wire.PeerOffer, SDP: out.SDP}})
	case rtc.HalfOutAnswer:
		pc.Broker.EmitMsgOut(NCOutput{Kind: NCOutputPeerMessage, Remote: s.remote, Msg: wire.PeerMessage{Kind: wire.PeerAnswer, SDP: out.SDP}})
	case rtc.HalfOutIce:
		pc.Broker.EmitMsgOut(NCOutput{Kind: NCOutputPeerMessage, Remote: s.remote, Msg: wire.PeerMessage{Kind: wire.PeerIceCandidate, Candidate: out.Ice}})
	case rtc.HalfOutOpen:
		pc.handleHalfOpen(s, half)
	case rtc.HalfOutClosed:
		pc.handleHalfClosed(s)
	case rtc.HalfOutText:
		pc.mu.Lock()
		pc.rxBytes += uint64(len(out.Text))
		pc.mu.Unlock()
		pc.Broker.EmitMsgOut(NCOutput{Kind: NCOutputText, Payload: out.Text})
	case rtc.HalfOutError:
		util.LogWarning("connection: half error: %s", out.Err)
	case rtc.HalfOutState:
		pc.recordState(s, out.State)
	}
}

func (pc *PeerConnection) handleHalfOpen(s *sub, half *rtcHalf) {
	pc.mu.Lock()
	s.state = Open
	queued := pc.queue
	pc.queue = nil
	for _, payload := range queued {
		pc.txBytes += uint64(len(payload))
	}
	firstConnect := !pc.connected
	pc.connected = true
	pc.mu.Unlock()

	for _, payload := range queued {
		half.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInText, Text: payload})
	}
	if firstConnect {
		pc.Broker.EmitMsgOut(NCOutput{Kind: NCOutputConnected})
	}
}

func (pc *PeerConnection) handleHalfClosed(s *sub) {
	pc.mu.Lock()
	s.state = Closed
	bothClosed := pc.outgoing.state == Closed && pc.incoming.state == Closed
	wasConnected := pc.connected
	if bothClosed {
		pc.connected = false
	}
	pc.mu.Unlock()
	if bothClosed && wasConnected {
		pc.Broker.EmitMsgOut(NCOutput{Kind: NCOutputDisconnected})
	}
}

func (pc *PeerConnection) recordState(s *sub, state *rtc.StateMap) {
	if state == nil {
		return
	}
	pc.mu.Lock()
	s.stats = *state
	report := StateReport{
		OutgoingState: pc.outgoing.state,
		IncomingState: pc.incoming.state,
		Outgoing:      pc.outgoing.stats,
		Incoming:      pc.incoming.stats,
	}
	pc.mu.Unlock()
	pc.Broker.EmitMsgOut(NCOutput{Kind: NCOutputState, State: &report})
}

// requestState asks each live half to report fresh state; the results
// surface asynchronously as NCOutputState once the halves reply.
func (pc *PeerConnection) requestState() {
	pc.mu.Lock()
	out, in := pc.outgoing.half, pc.incoming.half
	pc.mu.Unlock()
	if out != nil {
		out.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInGetState})
	}
	if in != nil {
		in.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInGetState})
	}
}

// handlePeerMessage applies the signalling step rules table of spec §4.3.
func (pc *PeerConnection) handlePeerMessage(remote bool, msg wire.PeerMessage) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	switch msg.Kind {
	case wire.PeerInit:
		if !remote {
			util.LogWarning("connection: unexpected Init on outgoing half, dropping")
			return
		}
		pc.supersedeIncomingLocked()
		pc.ensureHalfLocked(&pc.incoming)
		pc.incoming.state = Setup

	case wire.PeerOffer:
		if !remote {
			// Not applicable on the outgoing/Initiator side: it is always
			// the offerer, never the answerer.
			return
		}
		pc.ensureHalfLocked(&pc.incoming)
		pc.incoming.state = Setup
		pc.incoming.half.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInOffer, SDP: msg.SDP})

	case wire.PeerAnswer:
		if remote {
			// Not applicable on the incoming/Follower side: it is always
			// the answerer, never the offerer.
			return
		}
		if pc.outgoing.half == nil {
			util.LogWarning("connection: Answer with no outgoing half in progress, dropping")
			return
		}
		pc.outgoing.half.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInAnswer, SDP: msg.SDP})

	case wire.PeerIceCandidate:
		target := &pc.outgoing
		if remote {
			target = &pc.incoming
		}
		if target.half == nil {
			return
		}
		target.half.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInIce, Ice: msg.Candidate})
	}
}

// supersedeIncomingLocked implements "a fresh Init ... supersedes" (spec
// §4.3): any active incoming half is closed and discarded before the fresh
// one is created by the caller.
func (pc *PeerConnection) supersedeIncomingLocked() {
	if pc.incoming.half == nil {
		return
	}
	if pc.incoming.state == Setup || pc.incoming.state == Open {
		pc.incoming.half.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInClose})
		pc.incoming.half.Close()
	}
	pc.incoming.half = nil
	pc.incoming.state = Closed
}

// reset implements NCInput::Reset: both halves are torn down and the queue
// dropped; the PeerConnection re-arms for on-demand reconnection.
func (pc *PeerConnection) reset() []NCOutput {
	pc.mu.Lock()
	out, in := pc.outgoing.half, pc.incoming.half
	wasConnected := pc.connected
	pc.outgoing = newOutgoingSub()
	pc.incoming = newIncomingSub()
	pc.queue = nil
	pc.connected = false
	pc.mu.Unlock()

	if out != nil {
		out.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInClose})
		out.Close()
	}
	if in != nil {
		in.EmitMsgIn(rtc.HalfIn{Kind: rtc.HalfInClose})
		in.Close()
	}
	if wasConnected {
		return []NCOutput{{Kind: NCOutputDisconnected}}
	}
	return nil
}
