// Package pairing holds the bookkeeping around the wallet-pairing protocol:
// a single-slot event store that coalesces inbound session events, and a
// relay listener feeding it. The handshake and crypto live in the protocol
// peer; only session bookkeeping happens here.
package pairing

import "encoding/json"

// EventKind discriminates the event sum type.
type EventKind int

const (
	KindNone EventKind = iota
	KindSessionProposal
	KindSessionRequest
)

func (k EventKind) String() string {
	switch k {
	case KindSessionProposal:
		return "session_proposal"
	case KindSessionRequest:
		return "session_request"
	default:
		return "none"
	}
}

// Event is the single-slot pairing event. Exactly one Event lives in the
// Store at any time; writing a new one replaces, never queues.
type Event struct {
	Kind    EventKind
	Payload json.RawMessage
	// Topic correlates a session request to its established session.
	// Empty for proposals.
	Topic string
}

// None returns the empty slot value.
func None() Event {
	return Event{Kind: KindNone}
}

// NewSessionProposal builds a proposal event.
func NewSessionProposal(payload json.RawMessage) Event {
	return Event{Kind: KindSessionProposal, Payload: payload}
}

// NewSessionRequest builds a request event bound to topic.
func NewSessionRequest(payload json.RawMessage, topic string) Event {
	return Event{Kind: KindSessionRequest, Payload: payload, Topic: topic}
}

// PeerMeta is the display metadata of a connected peer. The zero value is
// the placeholder returned when no session matches; consumers never see nil.
type PeerMeta struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon"`
}

// Session is one established pairing session.
type Session struct {
	Topic string   `json:"topic"`
	Peer  PeerMeta `json:"peer"`
}
