// Package rtc defines the WebRTC transport contract the connection state
// machine (internal/connection) drives, plus the ConnectionConfig URL
// syntax of spec §6. The contract is consumed, not specified — concrete
// implementations (pion.go, a fake for tests) live in this package but
// internal/connection only ever sees the ConnectionFactory interface,
// mirroring how the teacher isolates internal/transport.Transport from raw
// pion calls.
package rtc

import (
	"errors"
	"strings"
)

// ErrBadURL is returned by ParseHostLogin when the input deviates from the
// `[user:pass@]scheme:host:port` syntax.
var ErrBadURL = errors.New("rtc: malformed STUN/TURN URL")

// HostLogin is a parsed STUN or TURN host, optionally with credentials.
type HostLogin struct {
	URL  string // e.g. "turn:example.org:3478"
	User string
	Pass string
}

// ParseHostLogin parses the `user:pass@turn:host:port` (or bare
// `turn:host:port` / `stun:host:port`) syntax from spec §6.
func ParseHostLogin(s string) (HostLogin, error) {
	scheme, rest, hasScheme := cutScheme(s)
	if !hasScheme {
		return HostLogin{}, ErrBadURL
	}

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		if !validHostPort(rest) {
			return HostLogin{}, ErrBadURL
		}
		return HostLogin{URL: scheme + ":" + rest}, nil
	}

	creds, hostport := rest[:at], rest[at+1:]
	if !validHostPort(hostport) {
		return HostLogin{}, ErrBadURL
	}
	colon := strings.Index(creds, ":")
	if colon < 0 {
		return HostLogin{}, ErrBadURL
	}
	user, pass := creds[:colon], creds[colon+1:]
	if user == "" || pass == "" {
		return HostLogin{}, ErrBadURL
	}
	return HostLogin{URL: scheme + ":" + hostport, User: user, Pass: pass}, nil
}

// cutScheme splits "turn:host:port" or "user:pass@turn:host:port" into its
// scheme ("turn"/"stun") and the rest of the string with "scheme:" removed
// (any "user:pass@" prefix stays in front, e.g. "user:pass@host:port"). Because the string itself is colon-heavy
// (host:port, and possibly user:pass), we locate the scheme by looking for
// "turn:" or "stun:" anywhere in the string, per spec's two accepted
// schemes.
func cutScheme(s string) (scheme, rest string, ok bool) {
	for _, sc := range []string{"turn", "stun"} {
		marker := sc + ":"
		if i := strings.Index(s, marker); i >= 0 {
			// Everything before the marker (if any) must be the "user:pass@" prefix.
			prefix := s[:i]
			if prefix != "" && !strings.HasSuffix(prefix, "@") {
				continue
			}
			return sc, prefix + s[i+len(marker):], true
		}
	}
	return "", "", false
}

func validHostPort(s string) bool {
	if s == "" {
		return false
	}
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return false
	}
	host, port := s[:idx], s[idx+1:]
	if host == "" || port == "" {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ConnectionConfig holds the optional STUN/TURN hosts a ConnectionFactory
// feeds to ICE gathering when it starts a new half-connection. It carries
// no signalling identity or endpoint; signalling runs outside the factory.
type ConnectionConfig struct {
	STUN *HostLogin
	TURN *HostLogin
}

// Role distinguishes which side of a half-connection a ConnectionFactory is
// building: the Initiator drives Init → Offer → (await Answer); the
// Follower drives Offer → Answer.
type Role int

const (
	RoleInitiator Role = iota
	RoleFollower
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "follower"
}

// ConnType classifies the local/remote candidate a half-connection settled
// on, surfaced in State for diagnostics.
type ConnType int

const (
	ConnTypeUnknown ConnType = iota
	ConnTypeHost
	ConnTypeSTUNPeer
	ConnTypeSTUNServer
	ConnTypeTURN
)

// HalfInKind tags the command stream a ConnectionFactory-produced broker
// accepts.
type HalfInKind string

const (
	HalfInInit     HalfInKind = "init"
	HalfInOffer    HalfInKind = "offer"
	HalfInAnswer   HalfInKind = "answer"
	HalfInIce      HalfInKind = "ice"
	HalfInText     HalfInKind = "text"
	HalfInGetState HalfInKind = "get_state"
	HalfInClose    HalfInKind = "close"
)

// HalfIn is one command sent into a half-connection broker.
type HalfIn struct {
	Kind HalfInKind
	SDP  string
	Ice  string
	Text []byte
}

// HalfOutKind tags the event stream a ConnectionFactory-produced broker
// emits.
type HalfOutKind string

const (
	HalfOutOffer  HalfOutKind = "offer"
	HalfOutAnswer HalfOutKind = "answer"
	HalfOutIce    HalfOutKind = "ice"
	HalfOutText   HalfOutKind = "text"
	HalfOutOpen   HalfOutKind = "open"
	HalfOutClosed HalfOutKind = "closed"
	HalfOutError  HalfOutKind = "error"
	HalfOutState  HalfOutKind = "state"
)

// StateMap reports point-in-time statistics about a half-connection,
// matching spec §3's PeerConnection.stats and §4.3's State reporting.
type StateMap struct {
	TypeLocal      ConnType
	TypeRemote     ConnType
	SignalingState string
	ICEGathering   string
	ICEConnection  string
	DataChannel    string
	RXBytes        uint64
	TXBytes        uint64
}

// HalfOut is one event produced by a half-connection broker.
type HalfOut struct {
	Kind  HalfOutKind
	SDP   string
	Ice   string
	Text  []byte
	Err   string
	State *StateMap
}
