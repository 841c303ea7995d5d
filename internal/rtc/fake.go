package rtc

import (
	"sync"

	"github.com/ineiti/fledger-sub002/internal/broker"
)

// FakeFactory is an in-process ConnectionFactory used by tests: two halves
// created from the same FakeFactory and paired with Pair are wired
// directly to each other, skipping SDP/ICE entirely but preserving the
// Init → Offer → Answer → Open handshake shape so the connection state
// machine in internal/connection can be exercised without a real WebRTC
// stack or STUN/TURN server — grounded on spec §9's requirement that
// implementations "accept a pre-created transport at construction rather
// than opening one internally, so tests can substitute a simulated
// socket".
type FakeFactory struct{}

// NewFakeFactory returns a fake factory. Halves it produces run the fake
// handshake on their own; Pair is only needed to carry control messages
// and Text between two halves.
func NewFakeFactory() *FakeFactory { return &FakeFactory{} }

// NewHalf implements ConnectionFactory. The returned half answers
// Init/Offer/Answer by itself (see fakeHalf); it exchanges nothing with
// another half until Pair links the two.
func (f *FakeFactory) NewHalf(cfg ConnectionConfig, role Role) (*broker.Broker[HalfIn, HalfOut], error) {
	b := broker.New[HalfIn, HalfOut]()
	h := &fakeHalf{role: role, b: b}
	b.AddHandler(h)
	return b, nil
}

// Pair links two brokers previously returned by NewHalf: control messages
// (Offer/Answer/Ice) produced as output by one side are delivered as input
// to the other, and Text sent into one side's input surfaces directly as a
// received-Text output on the other — mirroring how a real data channel
// delivers a sender's payload as the peer's OnMessage event without the
// sender ever seeing its own write echoed back.
func Pair(a, b *broker.Broker[HalfIn, HalfOut]) {
	linkControl(a, b)
	linkControl(b, a)
	linkText(a, b)
	linkText(b, a)
}

func linkControl(from, to *broker.Broker[HalfIn, HalfOut]) {
	broker.AddTranslatorLink(from, to,
		func(out HalfOut) (HalfIn, bool) {
			switch out.Kind {
			case HalfOutOffer:
				return HalfIn{Kind: HalfInOffer, SDP: out.SDP}, true
			case HalfOutAnswer:
				return HalfIn{Kind: HalfInAnswer, SDP: out.SDP}, true
			case HalfOutIce:
				return HalfIn{Kind: HalfInIce, Ice: out.Ice}, true
			}
			return HalfIn{}, false
		},
		func(HalfIn) (HalfIn, bool) { return HalfIn{}, false },
	)
}

// linkText forwards from's Text inputs straight onto to's output stream,
// i.e. it taps from's *input*, not its output.
func linkText(from, to *broker.Broker[HalfIn, HalfOut]) {
	tap, _, err := from.GetTapInSync()
	if err != nil {
		return
	}
	go func() {
		for in := range tap {
			if in.Kind == HalfInText {
				to.EmitMsgOut(HalfOut{Kind: HalfOutText, Text: in.Text})
			}
		}
	}()
}

// fakeHalf is a trivial state machine: Init synthesizes an Offer, Offer
// synthesizes an Answer plus Open, Answer synthesizes Open. Text produces
// no output of its own (an Error if the half is not open); a paired peer
// receives it through Pair's input tap.
type fakeHalf struct {
	role Role
	b    *broker.Broker[HalfIn, HalfOut]

	mu   sync.Mutex
	open bool
}

func (h *fakeHalf) Messages(in []HalfIn) []HalfOut {
	var outs []HalfOut
	for _, msg := range in {
		switch msg.Kind {
		case HalfInInit:
			outs = append(outs, HalfOut{Kind: HalfOutOffer, SDP: "fake-offer"})
		case HalfInOffer:
			outs = append(outs, HalfOut{Kind: HalfOutAnswer, SDP: "fake-answer"})
			h.setOpen()
			outs = append(outs, HalfOut{Kind: HalfOutOpen})
		case HalfInAnswer:
			h.setOpen()
			outs = append(outs, HalfOut{Kind: HalfOutOpen})
		case HalfInIce:
			// Fake transport has no real ICE; nothing to do.
		case HalfInText:
			h.mu.Lock()
			isOpen := h.open
			h.mu.Unlock()
			if !isOpen {
				outs = append(outs, HalfOut{Kind: HalfOutError, Err: "rtc(fake): not open"})
			}
		case HalfInGetState:
			h.mu.Lock()
			isOpen := h.open
			h.mu.Unlock()
			ds := "closed"
			if isOpen {
				ds = "open"
			}
			outs = append(outs, HalfOut{Kind: HalfOutState, State: &StateMap{DataChannel: ds}})
		case HalfInClose:
			h.mu.Lock()
			h.open = false
			h.mu.Unlock()
			outs = append(outs, HalfOut{Kind: HalfOutClosed})
		}
	}
	return outs
}

func (h *fakeHalf) setOpen() {
	h.mu.Lock()
	h.open = true
	h.mu.Unlock()
}
