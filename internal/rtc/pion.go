package rtc

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/ineiti/fledger-sub002/internal/broker"
	"github.com/ineiti/fledger-sub002/internal/util"
)

// defaultSTUNServers mirrors the teacher's fallback STUN list
// (internal/transport/peer.go), used whenever a ConnectionConfig carries no
// explicit STUN host.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// PionFactory is the production ConnectionFactory, backed by
// github.com/pion/webrtc/v4 exactly as the teacher's internal/transport
// package drives it (PeerConnection + negotiated DataChannel, ICE
// trickling via OnICECandidate). Text is written with DataChannel.Send
// directly; there is no BufferedAmount-based backpressure.
type PionFactory struct{}

// NewPionFactory returns the production ConnectionFactory.
func NewPionFactory() *PionFactory { return &PionFactory{} }

// NewHalf implements ConnectionFactory.
func (f *PionFactory) NewHalf(cfg ConnectionConfig, role Role) (*broker.Broker[HalfIn, HalfOut], error) {
	iceServers := []webrtc.ICEServer{{URLs: defaultSTUNServers}}
	if cfg.STUN != nil {
		s := webrtc.ICEServer{URLs: []string{cfg.STUN.URL}}
		if cfg.STUN.User != "" {
			s.Username = cfg.STUN.User
			s.Credential = cfg.STUN.Pass
		}
		iceServers = []webrtc.ICEServer{s}
	}
	if cfg.TURN != nil {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{cfg.TURN.URL},
			Username:   cfg.TURN.User,
			Credential: cfg.TURN.Pass,
		})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	b := broker.New[HalfIn, HalfOut]()
	h := &pionHalf{pc: pc, role: role, b: b}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		b.EmitMsgOut(HalfOut{Kind: HalfOutIce, Ice: string(data)})
	})
	pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})

	if role == RoleFollower {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			h.attachDataChannel(dc)
		})
	}

	if _, err := b.AddHandler(h); err != nil {
		pc.Close()
		return nil, err
	}
	return b, nil
}

// pionHalf implements broker.Handler[HalfIn, HalfOut] over one pion
// PeerConnection, mirroring the responsibilities split across the
// teacher's transport.Transport (signalling calls) and sender (data path).
type pionHalf struct {
	pc   *webrtc.PeerConnection
	role Role
	b    *broker.Broker[HalfIn, HalfOut]

	mu sync.Mutex
	dc *webrtc.DataChannel

	rxBytes, txBytes uint64
}

func (h *pionHalf) attachDataChannel(dc *webrtc.DataChannel) {
	h.mu.Lock()
	h.dc = dc
	h.mu.Unlock()

	dc.OnOpen(func() {
		h.b.EmitMsgOut(HalfOut{Kind: HalfOutOpen})
	})
	dc.OnClose(func() {
		h.b.EmitMsgOut(HalfOut{Kind: HalfOutClosed})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		h.mu.Lock()
		h.rxBytes += uint64(len(msg.Data))
		h.mu.Unlock()
		h.b.EmitMsgOut(HalfOut{Kind: HalfOutText, Text: msg.Data})
	})
}

// Messages implements broker.Handler. It is invoked synchronously by the
// half's round loop; every case is a direct (blocking, but fast) pion API
// call, matching the teacher's signalling exchange functions.
func (h *pionHalf) Messages(in []HalfIn) []HalfOut {
	var outs []HalfOut
	for _, msg := range in {
		switch msg.Kind {
		case HalfInInit:
			if h.role != RoleInitiator {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: "rtc: Init is only valid for the initiator half"})
				continue
			}
			dc, err := h.pc.CreateDataChannel("fledger", nil)
			if err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
				continue
			}
			h.attachDataChannel(dc)
			offer, err := h.pc.CreateOffer(nil)
			if err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
				continue
			}
			if err := h.pc.SetLocalDescription(offer); err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
				continue
			}
			outs = append(outs, HalfOut{Kind: HalfOutOffer, SDP: offer.SDP})

		case HalfInOffer:
			if h.role != RoleFollower {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: "rtc: Offer is only valid for the follower half"})
				continue
			}
			if err := h.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
				continue
			}
			answer, err := h.pc.CreateAnswer(nil)
			if err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
				continue
			}
			if err := h.pc.SetLocalDescription(answer); err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
				continue
			}
			outs = append(outs, HalfOut{Kind: HalfOutAnswer, SDP: answer.SDP})

		case HalfInAnswer:
			if h.role != RoleInitiator {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: "rtc: Answer is only valid for the initiator half"})
				continue
			}
			if err := h.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
			}

		case HalfInIce:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Ice), &init); err != nil {
				util.LogWarning("rtc: malformed ICE candidate: %v", err)
				continue
			}
			if err := h.pc.AddICECandidate(init); err != nil {
				util.LogWarning("rtc: AddICECandidate failed: %v", err)
			}

		case HalfInText:
			h.mu.Lock()
			dc := h.dc
			h.mu.Unlock()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: "rtc: data channel not open"})
				continue
			}
			if err := dc.Send(msg.Text); err != nil {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: err.Error()})
				continue
			}
			h.mu.Lock()
			h.txBytes += uint64(len(msg.Text))
			h.mu.Unlock()

		case HalfInGetState:
			outs = append(outs, HalfOut{Kind: HalfOutState, State: h.state()})

		case HalfInClose:
			h.mu.Lock()
			dc := h.dc
			h.mu.Unlock()
			if dc != nil {
				dc.Close()
			}
			h.pc.Close()
		}
	}
	return outs
}

func (h *pionHalf) state() *StateMap {
	h.mu.Lock()
	dc := h.dc
	rx, tx := h.rxBytes, h.txBytes
	h.mu.Unlock()

	sm := &StateMap{
		SignalingState: h.pc.SignalingState().String(),
		ICEGathering:   h.pc.ICEGatheringState().String(),
		ICEConnection:  h.pc.ICEConnectionState().String(),
		RXBytes:        rx,
		TXBytes:        tx,
	}
	if dc != nil {
		sm.DataChannel = dc.ReadyState().String()
	}
	return sm
}
