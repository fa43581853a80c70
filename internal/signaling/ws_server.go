// Package signaling implements the push transport binding: a WebSocket
// endpoint that translates inbound rendezvous messages into session store
// operations and pushes offers, answers, and errors back over the same
// connection.
package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/peerlink/rendezvous/internal/metrics"
	"github.com/peerlink/rendezvous/internal/session"
)

// WebSocketServer upgrades connections on its route and runs one read loop
// per peer. Each connection is represented to the store by a single handle,
// so a peer may act as producer on one code and consumer on another over the
// same socket.
type WebSocketServer struct {
	store           *session.Store
	log             *slog.Logger
	metrics         *metrics.Metrics
	maxMessageBytes int64
	upgrader        websocket.Upgrader
}

func NewWebSocketServer(store *session.Store, log *slog.Logger, maxMessageBytes int64) *WebSocketServer {
	return &WebSocketServer{
		store:           store,
		log:             log,
		metrics:         store.Metrics(),
		maxMessageBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			// The rendezvous endpoint is deliberately open to any origin; the
			// codes themselves are the pairing secret.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	handle := newWSHandle(conn)
	// A dropped connection orphans every session this peer participates in.
	defer s.store.ReleaseHandle(handle)

	s.log.Debug("websocket peer connected", "remote_addr", r.RemoteAddr)

	for {
		msgType, msgReader, err := conn.NextReader()
		if err != nil {
			s.log.Debug("websocket peer disconnected", "remote_addr", r.RemoteAddr, "err", err)
			return
		}
		if msgType != websocket.TextMessage {
			s.malformed(handle)
			continue
		}

		data, err := readLimited(msgReader, s.maxMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				s.malformed(handle)
				continue
			}
			return
		}

		msg, err := parseWireMessage(data)
		if err != nil {
			s.malformed(handle)
			continue
		}

		s.dispatch(handle, msg)
	}
}

// dispatch maps one inbound message onto the store. Errors are scoped to the
// message: the peer gets an error frame and the connection stays open.
func (s *WebSocketServer) dispatch(handle *wsHandle, msg wireMessage) {
	switch msg.Type {
	case messageTypeStoreOffer:
		if err := s.store.StoreOffer(msg.Code, msg.Offer, handle); err != nil {
			handle.writeError("Server is at capacity")
			return
		}
		s.log.Info("offer stored", "code", msg.Code, "transport", "ws")

	case messageTypeRequestOffer:
		offer, err := s.store.RequestOffer(msg.Code, handle)
		if err != nil {
			handle.writeError("Invalid code or code expired")
			return
		}
		s.log.Info("offer requested", "code", msg.Code, "transport", "ws")
		_ = handle.write(wireMessage{Type: messageTypeOffer, Offer: offer})

	case messageTypeAnswer:
		// On success the store pushes the answer to the producer's handle
		// itself; this binding only supplied the delivery mechanism.
		if err := s.store.SubmitAnswer(msg.Code, msg.Answer); err != nil {
			handle.writeError("Sender not found")
			return
		}
		s.log.Info("answer relayed", "code", msg.Code, "transport", "ws")
	}
}

func (s *WebSocketServer) malformed(handle *wsHandle) {
	s.metrics.Inc(metrics.MalformedMessages)
	handle.writeError("Invalid message format")
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
