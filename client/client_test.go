package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/peerlink/rendezvous/internal/config"
	"github.com/peerlink/rendezvous/internal/httpapi"
	"github.com/peerlink/rendezvous/internal/httpserver"
	"github.com/peerlink/rendezvous/internal/metrics"
	"github.com/peerlink/rendezvous/internal/session"
	"github.com/peerlink/rendezvous/internal/signaling"
)

// startRelay boots a complete in-process relay and returns its HTTP and
// WebSocket base URLs.
func startRelay(t *testing.T) (httpBase, wsURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.New(0, metrics.New(), nil)

	srv := httpserver.New(config.Config{ListenAddr: "127.0.0.1:0"}, log, httpserver.BuildInfo{})
	srv.Mux().Handle("GET /ws", signaling.NewWebSocketServer(store, log, 1<<20))
	srv.Mux().Handle("/api/signal", httpapi.New(store, log))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	httpBase = "http://" + ln.Addr().String()
	wsURL = "ws" + strings.TrimPrefix(httpBase, "http") + "/ws"
	return httpBase, wsURL
}

func TestPushProducerPullConsumer(t *testing.T) {
	httpBase, wsURL := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	producer, err := DialPush(ctx, wsURL)
	if err != nil {
		t.Fatalf("DialPush: %v", err)
	}
	defer producer.Close()

	if err := producer.StoreOffer("MIX1", json.RawMessage(`"push-offer"`)); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}

	consumer := &PullClient{BaseURL: httpBase}

	// store-offer is fire-and-forget on the push side; retry until visible.
	var offer json.RawMessage
	deadline := time.Now().Add(5 * time.Second)
	for {
		offer, err = consumer.GetOffer(ctx, "MIX1")
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNotFound) || time.Now().After(deadline) {
			t.Fatalf("GetOffer: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if string(offer) != `"push-offer"` {
		t.Fatalf("offer=%s, want %q", offer, "push-offer")
	}

	if err := consumer.StoreAnswer(ctx, "MIX1", json.RawMessage(`"pull-answer"`)); err != nil {
		t.Fatalf("StoreAnswer: %v", err)
	}

	answer, err := producer.AwaitAnswer(ctx)
	if err != nil {
		t.Fatalf("AwaitAnswer: %v", err)
	}
	if string(answer) != `"pull-answer"` {
		t.Fatalf("answer=%s, want %q", answer, "pull-answer")
	}
}

func TestPullProducerPushConsumer(t *testing.T) {
	httpBase, wsURL := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	producer := &PullClient{BaseURL: httpBase}
	if err := producer.StoreOffer(ctx, "MIX2", json.RawMessage(`"pull-offer"`)); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}

	consumer, err := DialPush(ctx, wsURL)
	if err != nil {
		t.Fatalf("DialPush: %v", err)
	}
	defer consumer.Close()

	offer, err := consumer.RequestOffer(ctx, "MIX2")
	if err != nil {
		t.Fatalf("RequestOffer: %v", err)
	}
	if string(offer) != `"pull-offer"` {
		t.Fatalf("offer=%s, want %q", offer, "pull-offer")
	}

	if err := consumer.SendAnswer("MIX2", json.RawMessage(`"push-answer"`)); err != nil {
		t.Fatalf("SendAnswer: %v", err)
	}

	answer, err := producer.PollAnswer(ctx, "MIX2")
	if err != nil {
		t.Fatalf("PollAnswer: %v", err)
	}
	if string(answer) != `"push-answer"` {
		t.Fatalf("answer=%s, want %q", answer, "push-answer")
	}
}

func TestPullClientNotFound(t *testing.T) {
	httpBase, _ := startRelay(t)
	ctx := context.Background()

	c := &PullClient{BaseURL: httpBase}
	if _, err := c.GetOffer(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOffer err=%v, want ErrNotFound", err)
	}
	if _, err := c.GetAnswer(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAnswer err=%v, want ErrNotFound", err)
	}
}
