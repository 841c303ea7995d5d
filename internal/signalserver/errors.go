package signalserver

import "errors"

var (
	errNotAnnounce  = errors.New("signalserver: expected an Announce as the first client message")
	errBadChallenge = errors.New("signalserver: announce does not answer the issued challenge")
	errIDMismatch   = errors.New("signalserver: announced NodeID does not match its verifier")
)
