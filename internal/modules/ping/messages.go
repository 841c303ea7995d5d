package ping

import "github.com/ineiti/fledger-sub002/internal/nodeid"

// ModuleMessageKind distinguishes the two wire messages peers exchange.
type ModuleMessageKind string

const (
	MsgPing ModuleMessageKind = "ping"
	MsgPong ModuleMessageKind = "pong"
)

// ModuleMessage is the payload carried inside a NetworkWrapper tagged
// "ping" (see wire.Wrapper), the YAML-encoded equivalent of the original's
// ModuleMessage enum.
type ModuleMessage struct {
	Kind ModuleMessageKind `yaml:"kind"`
}

// InKind tags the command stream the module's broker accepts.
type InKind string

const (
	InTick           InKind = "tick"
	InFromNetwork    InKind = "from_network"
	InUpdateNodeList InKind = "update_node_list"
	InDisconnectNode InKind = "disconnect_node"
)

// In is one command delivered to the module.
type In struct {
	Kind  InKind
	Peer  nodeid.ID
	Peers []nodeid.ID
	Msg   ModuleMessage
}

// OutKind tags the event stream the module's broker emits.
type OutKind string

const (
	OutToNetwork OutKind = "to_network"
	OutFailed    OutKind = "failed"
)

// Out is one event produced by the module.
type Out struct {
	Kind OutKind
	Peer nodeid.ID
	Msg  ModuleMessage
}
