package randomconn

import (
	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/network"
	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/util"
)

// InKind tags the command stream the module's broker accepts.
type InKind string

const (
	InNodeList     InKind = "node_list"
	InConnected    InKind = "connected"
	InDisconnected InKind = "disconnected"
	InReconcile    InKind = "reconcile"
)

// In is one command delivered to the module.
type In struct {
	Kind InKind
	Peer nodeid.ID
	Ids  []nodeid.ID
}

// OutKind tags the event stream the module's broker emits.
type OutKind string

const (
	OutConnect    OutKind = "connect"
	OutDisconnect OutKind = "disconnect"
)

// Out is one decision produced by the module.
type Out struct {
	Kind OutKind
	Peer nodeid.ID
}

// Module owns the storage and reconciliation logic; Reconcile runs after
// every input that could change the connect/disconnect decision.
type Module struct {
	Broker  *broker.Broker[In, Out]
	storage *Storage
}

func New(cfg Config) *Module {
	m := &Module{storage: NewStorage(cfg)}
	m.Broker = broker.New[In, Out]()
	if _, err := m.Broker.AddHandler(broker.HandlerFunc[In, Out](m.handle)); err != nil {
		util.LogError("randomconn: registering handler: %v", err)
	}
	return m
}

func (m *Module) handle(in []In) []Out {
	for _, msg := range in {
		switch msg.Kind {
		case InNodeList:
			m.storage.SetKnown(msg.Ids)
		case InConnected:
			m.storage.OnConnected(msg.Peer)
		case InDisconnected:
			m.storage.OnDisconnected(msg.Peer)
		case InReconcile:
			// no storage mutation, just triggers the reconcile pass below
		}
	}

	var out []Out
	connect, disconnect := m.storage.Reconcile()
	for _, id := range connect {
		out = append(out, Out{Kind: OutConnect, Peer: id})
	}
	for _, id := range disconnect {
		out = append(out, Out{Kind: OutDisconnect, Peer: id})
	}
	return out
}

// Link wires m to net: OutNodeListFromWS feeds InNodeList, OutConnected and
// OutDisconnected feed back the corresponding In so the module's active
// count stays accurate, and m's own Connect/Disconnect decisions are sent
// to net as InConnect/InDisconnect — the Go analogue of the original's
// Translate::link_rnd_ping-style bidirectional broker link, here linking
// random_connections directly to the overlay instead of through ping.
func Link(m *Module, net *network.Network) (int, error) {
	return broker.AddTranslatorLink(m.Broker, net.Broker, randomOutToNetworkIn, networkOutToRandomIn)
}

func randomOutToNetworkIn(o Out) (network.In, bool) {
	switch o.Kind {
	case OutConnect:
		return network.In{Kind: network.InConnect, Peer: o.Peer}, true
	case OutDisconnect:
		return network.In{Kind: network.InDisconnect, Peer: o.Peer}, true
	}
	return network.In{}, false
}

func networkOutToRandomIn(o network.Out) (In, bool) {
	switch o.Kind {
	case network.OutNodeListFromWS:
		ids := make([]nodeid.ID, len(o.Nodes))
		for i, n := range o.Nodes {
			ids[i] = n.ID
		}
		return In{Kind: InNodeList, Ids: ids}, true
	case network.OutConnected:
		return In{Kind: InConnected, Peer: o.Peer}, true
	case network.OutDisconnected:
		return In{Kind: InDisconnected, Peer: o.Peer}, true
	}
	return In{}, false
}
