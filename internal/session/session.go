// Package session implements the rendezvous session store: the authoritative
// in-memory table of pairing codes and their offer/answer state.
//
// A session is created when a producer stores an offer under a code, matched
// when a consumer retrieves the offer, and completed when the consumer's
// answer has been delivered back to the producer. Completed and expired
// sessions are removed; a code supports exactly one offer/answer exchange.
//
// The store is pure state machine plus timers. It performs no I/O of its own;
// transports hand it a Handle for each party and the store invokes the handle
// when it has an answer to push.
package session

import (
	"encoding/json"
	"time"
)

// Handle is an opaque reference to a means of delivering the answer payload
// back to a producer. The push transport backs it with a live WebSocket
// connection; the pull transport backs it with a mailbox drained by polling.
//
// Deliver is invoked at most once per session, outside the store's lock, and
// must not block for longer than a bounded write.
//
// Handles are compared by identity (==) in ReleaseHandle, so implementations
// must be pointer types.
type Handle interface {
	Deliver(answer json.RawMessage)
}

// State is the lifecycle position of a session.
type State int

const (
	// StatePending: offer stored, no consumer has retrieved it yet.
	StatePending State = iota
	// StateMatched: a consumer holds the offer, answer not yet received.
	StateMatched
	// StateCompleted: answer delivered; the session is awaiting retirement.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateMatched:
		return "matched"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Protocol timing. These are part of the rendezvous contract and are fixed in
// source rather than configurable.
const (
	// MaxAge is how long a session may live in any state before the sweeper
	// evicts it.
	MaxAge = 10 * time.Minute
	// SweepInterval is the period of the background expiry sweep.
	SweepInterval = time.Minute
	// CompletionGrace is how long a completed session lingers before removal,
	// giving a polling producer one more round-trip to pick up the answer.
	CompletionGrace = 5 * time.Second
	// PollInterval is the delay between answer checks in the pull binding's
	// poll-answer wait.
	PollInterval = time.Second
	// PollMaxAttempts bounds the poll-answer wait at roughly 30 seconds.
	PollMaxAttempts = 30
)

type session struct {
	code      string
	offer     json.RawMessage
	answer    json.RawMessage
	producer  Handle
	consumer  Handle
	createdAt time.Time
	state     State
}
