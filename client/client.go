// Package client implements Go clients for the rendezvous relay: a push
// client over WebSocket and a pull client over plain HTTP. Offer and answer
// payloads are opaque JSON, relayed verbatim.
package client

import (
	"encoding/json"
	"errors"
)

// Message is the JSON envelope of the WebSocket signaling protocol.
type Message struct {
	Type    string          `json:"type"`
	Code    string          `json:"code,omitempty"`
	Offer   json.RawMessage `json:"offer,omitempty"`
	Answer  json.RawMessage `json:"answer,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Message types understood by the relay.
const (
	TypeStoreOffer   = "store-offer"
	TypeRequestOffer = "request-offer"
	TypeAnswer       = "answer"
	TypeOffer        = "offer"
	TypeError        = "error"
)

var (
	// ErrNotFound is returned when the relay has no live session for a code.
	ErrNotFound = errors.New("code not found or expired")
	// ErrAnswerTimeout is returned when the relay gave up waiting for the
	// answer on a poll.
	ErrAnswerTimeout = errors.New("timeout waiting for answer")
)

// RelayError is a generic error frame or error body returned by the relay.
type RelayError struct {
	Reason string
}

func (e *RelayError) Error() string { return "relay: " + e.Reason }
