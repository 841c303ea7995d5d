package rtc

import "github.com/ineiti/fledger-sub002/internal/broker"

// ConnectionFactory is the WebRTC transport contract consumed by
// internal/connection. Given a ConnectionConfig and a Role, it produces a
// half-connection broker whose input/output types are HalfIn/HalfOut —
// the Go shape of spec §6's "WebRTC factory".
type ConnectionFactory interface {
	NewHalf(cfg ConnectionConfig, role Role) (*broker.Broker[HalfIn, HalfOut], error)
}
