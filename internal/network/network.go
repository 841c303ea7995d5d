// Package network implements the network façade (C5): the single broker
// application modules are written against, per spec §4.5. It hides the
// connection manager's per-half states and the signalling client's wire
// envelopes behind Connect/Disconnect/MessageToNode/WSUpdateListRequest in,
// and Connected/Disconnected/MessageFromNode/NodeListFromWS/SystemConfig
// out. Grounded on the teacher's internal/tunnel/dispatcher.go, which plays
// the same "one broker modules import, plumbing hidden behind it" role
// for the teacher's socket-tunnel stack.
package network

import (
	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/connection"
	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/signal"
	"github.com/ineiti/fledger-sub002/internal/util"
	"github.com/ineiti/fledger-sub002/internal/wire"
)

// InKind tags the command stream application modules send to a Network.
type InKind string

const (
	InConnect             InKind = "connect"
	InDisconnect          InKind = "disconnect"
	InMessageToNode       InKind = "message_to_node"
	InWSUpdateListRequest InKind = "ws_update_list_request"
)

// In is one command delivered to the Network's broker.
type In struct {
	Kind    InKind
	Peer    nodeid.ID
	Wrapper wire.Wrapper
}

// OutKind tags the event stream a Network emits.
type OutKind string

const (
	OutConnected       OutKind = "connected"
	OutDisconnected    OutKind = "disconnected"
	OutMessageFromNode OutKind = "message_from_node"
	OutNodeListFromWS  OutKind = "node_list_from_ws"
	OutSystemConfig    OutKind = "system_config"
)

// Out is one event produced by the Network's broker.
type Out struct {
	Kind    OutKind
	Peer    nodeid.ID
	Wrapper wire.Wrapper
	Nodes   []nodeid.Info
	Config  []byte
}

// Network is the C5 façade wiring a connection.Manager (C4) and a
// signal.Client (C2) behind one broker. Modules never see PeerMessage,
// SDP, or ICE.
type Network struct {
	local nodeid.ID

	Broker  *broker.Broker[In, Out]
	manager *connection.Manager
	sig     *signal.Client
}

// New builds a Network for local, wiring manager and sig together and
// behind Broker. systemConfig is opaque configuration data broadcast once
// at startup as a SystemConfig event, e.g. loaded from storage by the
// caller.
func New(local nodeid.ID, manager *connection.Manager, sig *signal.Client, systemConfig []byte) *Network {
	n := &Network{local: local, manager: manager, sig: sig}
	n.Broker = broker.New[In, Out]()
	if _, err := n.Broker.AddHandler(broker.HandlerFunc[In, Out](n.handle)); err != nil {
		util.LogError("network: registering façade handler: %v", err)
	}

	if _, err := broker.AddTranslatorLink(manager.Broker, sig.Broker, managerOutToSignalIn, signalOutToManagerIn); err != nil {
		util.LogError("network: wiring manager<->signal PeerSetup relay: %v", err)
	}
	if _, err := broker.AddTranslatorDirect(manager.Broker, n.Broker, managerOutToNetworkOut, func(In) (connection.ManagerIn, bool) {
		return connection.ManagerIn{}, false
	}); err != nil {
		util.LogError("network: wiring manager output into façade: %v", err)
	}
	if _, err := broker.AddTranslatorDirect(sig.Broker, n.Broker, signalOutToNetworkOut, func(In) (signal.In, bool) {
		return signal.In{}, false
	}); err != nil {
		util.LogError("network: wiring signal output into façade: %v", err)
	}

	if len(systemConfig) > 0 {
		n.Broker.EmitMsgOut(Out{Kind: OutSystemConfig, Config: systemConfig})
	}
	return n
}

func (n *Network) handle(in []In) []Out {
	for _, msg := range in {
		switch msg.Kind {
		case InConnect:
			n.manager.Broker.EmitMsgIn(connection.ManagerIn{Kind: connection.ManagerInConnect, Peer: msg.Peer})
		case InDisconnect:
			n.manager.Broker.EmitMsgIn(connection.ManagerIn{Kind: connection.ManagerInDisconnect, Peer: msg.Peer})
		case InMessageToNode:
			payload, err := wire.MarshalWrapper(msg.Wrapper)
			if err != nil {
				util.LogError("network: encoding outgoing message to %s: %v", msg.Peer, err)
				continue
			}
			n.manager.Broker.EmitMsgIn(connection.ManagerIn{Kind: connection.ManagerInSend, Peer: msg.Peer, Payload: payload})
		case InWSUpdateListRequest:
			n.sig.Broker.EmitMsgIn(signal.In{Kind: signal.InSend, Envelope: wire.NewListIDsRequest()})
		}
	}
	return nil
}

// managerOutToSignalIn forwards the connection manager's outbound PeerSetup
// envelopes to the signalling client for relay through the server.
func managerOutToSignalIn(o connection.ManagerOut) (signal.In, bool) {
	if o.Kind != connection.ManagerOutPeerSetup {
		return signal.In{}, false
	}
	return signal.In{Kind: signal.InSend, Envelope: wire.NewPeerSetup(o.Setup.IDInit, o.Setup.IDFollow, o.Setup.Message)}, true
}

// signalOutToManagerIn delivers inbound PeerSetup envelopes from the
// signalling server to the connection manager's routing.
func signalOutToManagerIn(o signal.Out) (connection.ManagerIn, bool) {
	if o.Kind != signal.OutRecv || o.Envelope.Kind != wire.KindPeerSetup || o.Envelope.PeerSetup == nil {
		return connection.ManagerIn{}, false
	}
	return connection.ManagerIn{Kind: connection.ManagerInPeerSetup, Setup: *o.Envelope.PeerSetup}, true
}

// managerOutToNetworkOut exposes the connection manager's peer-lifecycle
// and data events directly as façade output; PeerSetup is handled by the
// separate manager<->signal translator above, not here.
func managerOutToNetworkOut(o connection.ManagerOut) (Out, bool) {
	switch o.Kind {
	case connection.ManagerOutConnected:
		return Out{Kind: OutConnected, Peer: o.Peer}, true
	case connection.ManagerOutDisconnected:
		return Out{Kind: OutDisconnected, Peer: o.Peer}, true
	case connection.ManagerOutText:
		w, err := wire.UnmarshalWrapper(o.Payload)
		if err != nil {
			util.LogWarning("network: dropping unparsable message from %s: %v", o.Peer, err)
			return Out{}, false
		}
		return Out{Kind: OutMessageFromNode, Peer: o.Peer, Wrapper: w}, true
	}
	return Out{}, false
}

// signalOutToNetworkOut surfaces the signalling client's ListIDsReply as
// NodeListFromWS; every other signal.Out kind (connection lifecycle,
// errors, PeerSetup already handled above) is internal to C2/C4 plumbing.
func signalOutToNetworkOut(o signal.Out) (Out, bool) {
	if o.Kind != signal.OutRecv || o.Envelope.Kind != wire.KindListIDsReply {
		return Out{}, false
	}
	return Out{Kind: OutNodeListFromWS, Nodes: o.Envelope.NodeInfos}, true
}
