package connection

import (
	"sync"
	"time"

	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/rtc"
	"github.com/ineiti/fledger-sub002/internal/util"
	"github.com/ineiti/fledger-sub002/internal/wire"
)

// ManagerInKind tags the command stream a Manager accepts.
type ManagerInKind string

const (
	ManagerInSend       ManagerInKind = "send"
	ManagerInConnect    ManagerInKind = "connect"
	ManagerInDisconnect ManagerInKind = "disconnect"
	ManagerInPeerSetup  ManagerInKind = "peer_setup"
)

// ManagerIn is one command delivered to the Manager's broker.
type ManagerIn struct {
	Kind    ManagerInKind
	Peer    nodeid.ID
	Payload []byte
	Setup   wire.PeerSetup
}

// ManagerOutKind tags the event stream a Manager emits.
type ManagerOutKind string

const (
	ManagerOutText         ManagerOutKind = "text"
	ManagerOutPeerSetup    ManagerOutKind = "peer_setup"
	ManagerOutConnected    ManagerOutKind = "connected"
	ManagerOutDisconnected ManagerOutKind = "disconnected"
	ManagerOutState        ManagerOutKind = "state"
)

// ManagerOut is one event produced by the Manager's broker, always tagged
// with the peer it concerns.
type ManagerOut struct {
	Kind    ManagerOutKind
	Peer    nodeid.ID
	Payload []byte
	Setup   wire.PeerSetup
	State   *StateReport
}

type entry struct {
	pc     *PeerConnection
	tapIdx int
}

// Manager owns one PeerConnection per remote NodeID (spec §4.4, C4),
// grounded on the teacher's internal/tunnel/dispatcher.go table-of-handlers
// pattern generalized from socket IDs to NodeID.
type Manager struct {
	local   nodeid.ID
	factory rtc.ConnectionFactory
	cfg     rtc.ConnectionConfig

	Broker *broker.Broker[ManagerIn, ManagerOut]

	mu    sync.Mutex
	table map[nodeid.ID]*entry
}

// NewManager constructs a Manager for local, dialing out new halves through
// factory with the given STUN/TURN configuration.
func NewManager(local nodeid.ID, factory rtc.ConnectionFactory, cfg rtc.ConnectionConfig) *Manager {
	m := &Manager{
		local:   local,
		factory: factory,
		cfg:     cfg,
		table:   make(map[nodeid.ID]*entry),
	}
	m.Broker = broker.New[ManagerIn, ManagerOut]()
	if _, err := m.Broker.AddHandler(broker.HandlerFunc[ManagerIn, ManagerOut](m.handle)); err != nil {
		util.LogError("connection: registering manager handler: %v", err)
	}
	return m
}

func (m *Manager) handle(in []ManagerIn) []ManagerOut {
	for _, msg := range in {
		switch msg.Kind {
		case ManagerInConnect:
			pc := m.ensureConnection(msg.Peer)
			pc.Broker.EmitMsgIn(NCInput{Kind: NCInputConnect})
		case ManagerInDisconnect:
			m.disconnect(msg.Peer)
		case ManagerInSend:
			pc := m.ensureConnection(msg.Peer)
			pc.Broker.EmitMsgIn(NCInput{Kind: NCInputSend, Payload: msg.Payload})
		case ManagerInPeerSetup:
			m.routePeerSetup(msg.Setup)
		}
	}
	return nil
}

// ensureConnection is idempotent: it returns the existing PeerConnection for
// id, or creates one and wires its output stream into the Manager's own
// output stream (tagged with id) via AddTranslatorDirect — the "sub-broker
// is the internal form of an exposed broker" shape from spec §4.1.
func (m *Manager) ensureConnection(id nodeid.ID) *PeerConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.table[id]; ok {
		return e.pc
	}

	pc := New(m.factory, m.cfg)
	idx, err := broker.AddTranslatorDirect(pc.Broker, m.Broker,
		m.tagOutput(id),
		func(ManagerIn) (NCInput, bool) { return NCInput{}, false },
	)
	if err != nil {
		util.LogError("connection: wiring peer %s into manager output: %v", id, err)
	}
	m.table[id] = &entry{pc: pc, tapIdx: idx}
	return pc
}

// tagOutput builds the NCOutput → ManagerOut mapping for peer id, including
// reconstructing the PeerSetup envelope's id_init/id_follow direction from
// which half (outgoing/incoming) produced the PeerMessage.
func (m *Manager) tagOutput(id nodeid.ID) func(NCOutput) (ManagerOut, bool) {
	return func(o NCOutput) (ManagerOut, bool) {
		switch o.Kind {
		case NCOutputText:
			return ManagerOut{Kind: ManagerOutText, Peer: id, Payload: o.Payload}, true
		case NCOutputPeerMessage:
			setup := wire.PeerSetup{IDInit: m.local, IDFollow: id, Message: o.Msg}
			if o.Remote {
				setup = wire.PeerSetup{IDInit: id, IDFollow: m.local, Message: o.Msg}
			}
			return ManagerOut{Kind: ManagerOutPeerSetup, Peer: id, Setup: setup}, true
		case NCOutputConnected:
			return ManagerOut{Kind: ManagerOutConnected, Peer: id}, true
		case NCOutputDisconnected:
			return ManagerOut{Kind: ManagerOutDisconnected, Peer: id}, true
		case NCOutputState:
			return ManagerOut{Kind: ManagerOutState, Peer: id, State: o.State}, true
		}
		return ManagerOut{}, false
	}
}

// disconnect removes id's entry from the table immediately, then sends Reset
// to it and closes the PeerConnection once the Reset has settled (or after
// two seconds). The entry does not stay in the table until both halves
// report Closed; a later message to id creates a fresh entry.
func (m *Manager) disconnect(id nodeid.ID) {
	m.mu.Lock()
	e, ok := m.table[id]
	if ok {
		delete(m.table, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	e.pc.Broker.EmitMsgIn(NCInput{Kind: NCInputReset})
	go func() {
		broker.SettleTimeout(2*time.Second, e.pc.Broker)
		e.pc.Close()
	}()
}

// routePeerSetup implements spec §4.4's inbound PeerSetup routing: deliver
// to the incoming side if we're id_follow, to the outgoing side if we're
// id_init.
func (m *Manager) routePeerSetup(setup wire.PeerSetup) {
	switch {
	case setup.IDFollow == m.local:
		pc := m.ensureConnection(setup.IDInit)
		pc.Broker.EmitMsgIn(NCInput{Kind: NCInputPeerMessage, Remote: true, Msg: setup.Message})
	case setup.IDInit == m.local:
		pc := m.ensureConnection(setup.IDFollow)
		pc.Broker.EmitMsgIn(NCInput{Kind: NCInputPeerMessage, Remote: false, Msg: setup.Message})
	default:
		util.LogWarning("connection: PeerSetup %s concerns neither local endpoint, dropping", setup.Message)
	}
}
