// Package connection implements the per-peer connection state machine (C3)
// and the connection manager (C4) that owns one PeerConnection per remote
// NodeID. It is grounded directly on
// original_source/common/src/node/network/node_connection.rs: two
// independent half-connections (outgoing/incoming) racing to Open, a send
// path that prefers outgoing, and supersession of a stale incoming half by a
// fresh Init.
package connection

import "github.com/ineiti/fledger-sub002/internal/rtc"

// State is one half-connection's position in its lifecycle.
type State int

const (
	Idle State = iota
	Setup
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Setup:
		return "setup"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// sub is one half (outgoing or incoming) of a PeerConnection. remote tags
// which side it is for the purposes of NCInput/NCOutput routing: false for
// the locally-initiated outgoing half (transport role Initiator), true for
// the remotely-initiated incoming half (transport role Follower).
type sub struct {
	role   rtc.Role
	remote bool
	state  State
	half   *rtcHalf
	stats  rtc.StateMap
}

func newOutgoingSub() sub { return sub{role: rtc.RoleInitiator, remote: false} }
func newIncomingSub() sub { return sub{role: rtc.RoleFollower, remote: true} }
