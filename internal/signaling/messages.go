package signaling

import (
	"encoding/json"
	"fmt"
)

type messageType string

// Inbound message types.
const (
	messageTypeStoreOffer   messageType = "store-offer"
	messageTypeRequestOffer messageType = "request-offer"
	messageTypeAnswer       messageType = "answer"
)

// Outbound message types.
const (
	messageTypeOffer messageType = "offer"
	messageTypeError messageType = "error"
)

// wireMessage is the JSON envelope exchanged over the WebSocket. Offer and
// answer payloads are opaque: they are relayed verbatim as raw JSON, never
// inspected.
type wireMessage struct {
	Type    messageType     `json:"type"`
	Code    string          `json:"code,omitempty"`
	Offer   json.RawMessage `json:"offer,omitempty"`
	Answer  json.RawMessage `json:"answer,omitempty"`
	Message string          `json:"message,omitempty"`
}

func parseWireMessage(data []byte) (wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return wireMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return wireMessage{}, err
	}
	return msg, nil
}

func (m wireMessage) validate() error {
	switch m.Type {
	case messageTypeStoreOffer:
		if m.Code == "" {
			return fmt.Errorf("store-offer message missing code")
		}
		if len(m.Offer) == 0 {
			return fmt.Errorf("store-offer message missing offer")
		}
	case messageTypeRequestOffer:
		if m.Code == "" {
			return fmt.Errorf("request-offer message missing code")
		}
	case messageTypeAnswer:
		if m.Code == "" {
			return fmt.Errorf("answer message missing code")
		}
		if len(m.Answer) == 0 {
			return fmt.Errorf("answer message missing answer")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
