package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// PushClient is a peer on the WebSocket binding. One client can act as
// producer (StoreOffer then AwaitAnswer) or consumer (RequestOffer then
// SendAnswer) for a code.
type PushClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// DialPush connects to the relay's WebSocket endpoint, e.g.
// ws://host:3001/ws.
func DialPush(ctx context.Context, url string) (*PushClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial rendezvous server: %w", err)
	}
	return &PushClient{conn: conn}, nil
}

func (c *PushClient) Close() error {
	return c.conn.Close()
}

func (c *PushClient) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// read waits for the next frame, honoring ctx cancellation by closing the
// connection (the client is single-exchange; there is nothing to salvage).
func (c *PushClient) read(ctx context.Context) (Message, error) {
	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		c.conn.Close()
		return Message{}, ctx.Err()
	case r := <-ch:
		return r.msg, r.err
	}
}

// StoreOffer publishes the offer under code. The relay sends no
// acknowledgement; the producer follows up with AwaitAnswer.
func (c *PushClient) StoreOffer(code string, offer json.RawMessage) error {
	return c.write(Message{Type: TypeStoreOffer, Code: code, Offer: offer})
}

// AwaitAnswer blocks until the relay pushes the consumer's answer.
func (c *PushClient) AwaitAnswer(ctx context.Context) (json.RawMessage, error) {
	for {
		msg, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case TypeAnswer:
			return msg.Answer, nil
		case TypeError:
			return nil, &RelayError{Reason: msg.Message}
		}
		// Ignore anything else; the relay only pushes answer or error here.
	}
}

// RequestOffer retrieves the offer stored under code.
func (c *PushClient) RequestOffer(ctx context.Context, code string) (json.RawMessage, error) {
	if err := c.write(Message{Type: TypeRequestOffer, Code: code}); err != nil {
		return nil, err
	}
	msg, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case TypeOffer:
		return msg.Offer, nil
	case TypeError:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}
}

// SendAnswer submits the answer for code; the relay forwards it to the
// producer.
func (c *PushClient) SendAnswer(code string, answer json.RawMessage) error {
	return c.write(Message{Type: TypeAnswer, Code: code, Answer: answer})
}
