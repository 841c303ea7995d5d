// Package wire implements the two wire formats the substrate speaks: the
// JSON SignalEnvelope exchanged with the signalling server (§6 "Signalling
// wire format"), and the YAML-encoded NetworkWrapper payload carried over a
// WebRTC data channel (§6 "Peer wire format"). Framing matches the
// teacher's flat JSON message struct (internal/signaling/message.go),
// generalised from the three-case offer/answer/candidate union to the
// full SignalEnvelope/PeerMessage tagged unions of the spec.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/ineiti/fledger-sub002/internal/nodeid"
)

// EnvelopeKind tags the variant carried by a SignalEnvelope.
type EnvelopeKind string

const (
	KindChallenge      EnvelopeKind = "challenge"
	KindAnnounce       EnvelopeKind = "announce"
	KindListIDsRequest EnvelopeKind = "list_ids_request"
	KindListIDsReply   EnvelopeKind = "list_ids_reply"
	KindPeerSetup      EnvelopeKind = "peer_setup"
	KindNodeStats      EnvelopeKind = "node_stats"
	KindDone           EnvelopeKind = "done"
	KindError          EnvelopeKind = "error"
)

// PeerMessageKind tags the variant carried by a PeerMessage.
type PeerMessageKind string

const (
	PeerInit         PeerMessageKind = "init"
	PeerOffer        PeerMessageKind = "offer"
	PeerAnswer       PeerMessageKind = "answer"
	PeerIceCandidate PeerMessageKind = "ice_candidate"
)

// PeerMessage is the signalling payload relayed between two peers through
// PeerSetup. It is a flattened tagged union, in the teacher's style, rather
// than an interface hierarchy: exactly one of SDP/Candidate is meaningful,
// selected by Kind.
type PeerMessage struct {
	Kind      PeerMessageKind `json:"kind"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate string          `json:"candidate,omitempty"`
}

func (m PeerMessage) String() string {
	return string(m.Kind)
}

// PeerSetup carries a PeerMessage between the node that initiated the
// connection (IDInit) and the one that is following (IDFollow); the server
// relays it verbatim to whichever side did not send it.
type PeerSetup struct {
	IDInit   nodeid.ID   `json:"id_init"`
	IDFollow nodeid.ID   `json:"id_follow"`
	Message  PeerMessage `json:"message"`
}

// Remote returns the counterpart of local in this PeerSetup, or false if
// local is neither side.
func (p PeerSetup) Remote(local nodeid.ID) (nodeid.ID, bool) {
	switch local {
	case p.IDInit:
		return p.IDFollow, true
	case p.IDFollow:
		return p.IDInit, true
	default:
		return nodeid.ID{}, false
	}
}

// ChallengeMsg is the first message a signalling server sends on websocket
// open: a protocol version and a nonce the client must sign back in its
// Announce.
type ChallengeMsg struct {
	Version uint64    `json:"version"`
	Nonce   nodeid.ID `json:"nonce"`
}

// AnnounceMsg is the client's response to a ChallengeMsg.
type AnnounceMsg struct {
	Version   uint64       `json:"version"`
	Challenge nodeid.ID    `json:"challenge"`
	NodeInfo  nodeid.Info  `json:"node_info"`
	Signature []byte       `json:"signature"`
}

// NodeStat reports liveness/latency of one peer, gossiped through
// NodeStats envelopes.
type NodeStat struct {
	ID      nodeid.ID `json:"id"`
	Version string    `json:"version"`
	PingMS  uint32    `json:"ping_ms"`
	PingRX  uint32    `json:"ping_rx"`
}

// Envelope is the flattened SignalEnvelope tagged union exchanged between a
// node and the signalling server. Exactly the fields relevant to Kind are
// populated; the rest are zero.
type Envelope struct {
	Kind EnvelopeKind `json:"kind"`

	Challenge *ChallengeMsg `json:"challenge,omitempty"`
	Announce  *AnnounceMsg  `json:"announce,omitempty"`
	NodeInfos []nodeid.Info `json:"node_infos,omitempty"`
	PeerSetup *PeerSetup    `json:"peer_setup,omitempty"`
	NodeStats []NodeStat    `json:"node_stats,omitempty"`
	ErrorMsg  string        `json:"error,omitempty"`
}

func (e Envelope) String() string {
	return string(e.Kind)
}

// Marshal serialises an Envelope to its JSON wire form — one frame per
// websocket text message, per spec §6.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a JSON wire frame into an Envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("wire: bad SignalEnvelope: %w", err)
	}
	return e, nil
}

// Constructors for each variant, mirroring the flattened struct-per-kind
// shape the server and client build directly rather than hand-assembling
// Envelope literals everywhere.

func NewChallenge(version uint64, nonce nodeid.ID) Envelope {
	return Envelope{Kind: KindChallenge, Challenge: &ChallengeMsg{Version: version, Nonce: nonce}}
}

func NewAnnounce(version uint64, challenge nodeid.ID, info nodeid.Info, sig []byte) Envelope {
	return Envelope{Kind: KindAnnounce, Announce: &AnnounceMsg{
		Version: version, Challenge: challenge, NodeInfo: info, Signature: sig,
	}}
}

func NewListIDsRequest() Envelope {
	return Envelope{Kind: KindListIDsRequest}
}

func NewListIDsReply(infos []nodeid.Info) Envelope {
	return Envelope{Kind: KindListIDsReply, NodeInfos: infos}
}

func NewPeerSetup(initID, followID nodeid.ID, msg PeerMessage) Envelope {
	return Envelope{Kind: KindPeerSetup, PeerSetup: &PeerSetup{IDInit: initID, IDFollow: followID, Message: msg}}
}

func NewNodeStats(stats []NodeStat) Envelope {
	return Envelope{Kind: KindNodeStats, NodeStats: stats}
}

func NewDone() Envelope {
	return Envelope{Kind: KindDone}
}

func NewError(msg string) Envelope {
	return Envelope{Kind: KindError, ErrorMsg: msg}
}
