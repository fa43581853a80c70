package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 1 * time.Second

// wsHandle is the session.Handle for a WebSocket peer. All writes to the
// connection go through the handle's mutex so that store-driven answer pushes
// and handler replies never interleave on the wire.
type wsHandle struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSHandle(conn *websocket.Conn) *wsHandle {
	return &wsHandle{conn: conn}
}

// Deliver pushes the answer payload to the producer. Invoked by the session
// store after SubmitAnswer; failures are swallowed because the store has
// already retired the exchange and the peer will be cleaned up by the read
// loop's release on close.
func (h *wsHandle) Deliver(answer json.RawMessage) {
	_ = h.write(wireMessage{Type: messageTypeAnswer, Answer: answer})
}

func (h *wsHandle) write(msg wireMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return h.conn.WriteJSON(msg)
}

func (h *wsHandle) writeError(text string) {
	_ = h.write(wireMessage{Type: messageTypeError, Message: text})
}
