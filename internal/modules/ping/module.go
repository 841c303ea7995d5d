package ping

import (
	"time"

	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/network"
	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/util"
	"github.com/ineiti/fledger-sub002/internal/wire"
)

const moduleName = "ping"

// Module owns the ping broker and a periodic ticker goroutine, grounded on
// original_source/flmodules/src/ping/broker.rs's PingBroker + its timer
// subsystem (here a plain time.Ticker in place of the original's shared
// TimerMessage broker).
type Module struct {
	Broker *broker.Broker[In, Out]

	storage *Storage
	stopCh  chan struct{}
}

// New builds a standalone ping broker; call Link to wire it to a
// network.Network façade.
func New(cfg Config) *Module {
	m := &Module{storage: NewStorage(cfg), stopCh: make(chan struct{})}
	m.Broker = broker.New[In, Out]()
	if _, err := m.Broker.AddHandler(broker.HandlerFunc[In, Out](m.handle)); err != nil {
		util.LogError("ping: registering handler: %v", err)
	}
	return m
}

// StartTicker drives InTick once per interval until Stop is called.
func (m *Module) StartTicker(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.Broker.EmitMsgIn(In{Kind: InTick})
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the ticker goroutine, if running.
func (m *Module) Stop() { close(m.stopCh) }

func (m *Module) handle(in []In) []Out {
	var out []Out
	for _, msg := range in {
		switch msg.Kind {
		case InTick:
			m.storage.Tick()
			for _, id := range m.storage.Ping {
				out = append(out, Out{Kind: OutToNetwork, Peer: id, Msg: ModuleMessage{Kind: MsgPing}})
			}
			for _, id := range m.storage.Failed {
				out = append(out, Out{Kind: OutFailed, Peer: id})
			}
		case InFromNetwork:
			switch msg.Msg.Kind {
			case MsgPing:
				if _, ok := m.storage.Stats[msg.Peer]; ok {
					out = append(out, Out{Kind: OutToNetwork, Peer: msg.Peer, Msg: ModuleMessage{Kind: MsgPong}})
				}
			case MsgPong:
				m.storage.Pong(msg.Peer)
			}
		case InUpdateNodeList:
			start := len(m.storage.Ping)
			for _, id := range msg.Peers {
				m.storage.NewNode(id)
			}
			for _, id := range m.storage.Ping[start:] {
				out = append(out, Out{Kind: OutToNetwork, Peer: id, Msg: ModuleMessage{Kind: MsgPing}})
			}
		case InDisconnectNode:
			m.storage.RemoveNode(msg.Peer)
		}
	}
	return out
}

// Link wires m to net: OutMessageFromNode envelopes tagged "ping" feed
// InFromNetwork, OutConnected/OutNodeListFromWS feed InUpdateNodeList,
// OutDisconnected feeds InDisconnectNode, and m's OutToNetwork events are
// sent back out through net as InMessageToNode — the direct Go analogue of
// the original's Translate::link_rnd_ping/link_ping_rnd bidirectional
// broker link.
func Link(m *Module, net *network.Network) (int, error) {
	return broker.AddTranslatorLink(m.Broker, net.Broker, pingOutToNetworkIn, networkOutToPingIn)
}

func pingOutToNetworkIn(o Out) (network.In, bool) {
	if o.Kind != OutToNetwork {
		return network.In{}, false
	}
	w, err := wire.WrapYAML(moduleName, o.Msg)
	if err != nil {
		util.LogError("ping: wrapping outgoing message: %v", err)
		return network.In{}, false
	}
	return network.In{Kind: network.InMessageToNode, Peer: o.Peer, Wrapper: w}, true
}

func networkOutToPingIn(o network.Out) (In, bool) {
	switch o.Kind {
	case network.OutMessageFromNode:
		var mm ModuleMessage
		ok, err := wire.UnwrapYAML(o.Wrapper, moduleName, &mm)
		if err != nil {
			util.LogError("ping: unwrapping incoming message: %v", err)
			return In{}, false
		}
		if !ok {
			return In{}, false
		}
		return In{Kind: InFromNetwork, Peer: o.Peer, Msg: mm}, true
	case network.OutConnected:
		return In{Kind: InUpdateNodeList, Peers: []nodeid.ID{o.Peer}}, true
	case network.OutNodeListFromWS:
		ids := make([]nodeid.ID, len(o.Nodes))
		for i, n := range o.Nodes {
			ids[i] = n.ID
		}
		return In{Kind: InUpdateNodeList, Peers: ids}, true
	case network.OutDisconnected:
		return In{Kind: InDisconnectNode, Peer: o.Peer}, true
	}
	return In{}, false
}
