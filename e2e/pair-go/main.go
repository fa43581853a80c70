// End-to-end exercise for the rendezvous relay: two in-process pion peers
// pair through a running relay and exchange a message over the resulting
// DataChannel. The producer uses the WebSocket binding and the consumer the
// HTTP polling binding, so one run covers both transports.
//
// Usage:
//
//	go run ./e2e/pair-go -server http://localhost:3001
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peerlink/rendezvous/client"
)

func main() {
	server := flag.String("server", "http://localhost:3001", "rendezvous server base URL")
	code := flag.String("code", "E2E-PAIR", "pairing code to use")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx, *server, *code); err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("e2e: OK")
}

func run(ctx context.Context, server, code string) error {
	httpBase := strings.TrimSuffix(server, "/")
	wsURL, err := wsEndpoint(httpBase)
	if err != nil {
		return err
	}

	producerErr := make(chan error, 1)
	go func() {
		producerErr <- runProducer(ctx, wsURL, code)
	}()

	if err := runConsumer(ctx, httpBase, code); err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	if err := <-producerErr; err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	return nil
}

// runProducer publishes an offer over the push binding and waits for the
// answer push, then for a DataChannel echo.
func runProducer(ctx context.Context, wsURL, code string) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	defer pc.Close()

	dc, err := pc.CreateDataChannel("pair", nil)
	if err != nil {
		return err
	}

	echo := make(chan string, 1)
	dc.OnOpen(func() {
		_ = dc.SendText("hello from producer")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case echo <- string(msg.Data):
		default:
		}
	})

	offer, err := localDescription(ctx, pc, func() (webrtc.SessionDescription, error) {
		return pc.CreateOffer(nil)
	})
	if err != nil {
		return err
	}

	relay, err := client.DialPush(ctx, wsURL)
	if err != nil {
		return err
	}
	defer relay.Close()

	if err := relay.StoreOffer(code, offer); err != nil {
		return err
	}

	answer, err := relay.AwaitAnswer(ctx)
	if err != nil {
		return err
	}
	if err := applyRemote(pc, answer); err != nil {
		return err
	}

	select {
	case msg := <-echo:
		if msg != "hello from consumer" {
			return fmt.Errorf("unexpected echo %q", msg)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runConsumer fetches the offer over the pull binding, answers it, and echoes
// on the DataChannel.
func runConsumer(ctx context.Context, httpBase, code string) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	defer pc.Close()

	done := make(chan error, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if string(msg.Data) != "hello from producer" {
				done <- fmt.Errorf("unexpected message %q", msg.Data)
				return
			}
			_ = dc.SendText("hello from consumer")
			done <- nil
		})
	})

	relay := &client.PullClient{BaseURL: httpBase}

	// The producer's store-offer may still be in flight; retry briefly.
	var offer json.RawMessage
	for {
		offer, err = relay.GetOffer(ctx, code)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("offer never appeared: %w", err)
		case <-time.After(100 * time.Millisecond):
		}
	}
	if err := applyRemote(pc, offer); err != nil {
		return err
	}

	answer, err := localDescription(ctx, pc, func() (webrtc.SessionDescription, error) {
		return pc.CreateAnswer(nil)
	})
	if err != nil {
		return err
	}
	if err := relay.StoreAnswer(ctx, code, answer); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func localDescription(ctx context.Context, pc *webrtc.PeerConnection, create func() (webrtc.SessionDescription, error)) (json.RawMessage, error) {
	desc, err := create()
	if err != nil {
		return nil, err
	}
	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(pc.LocalDescription())
}

func applyRemote(pc *webrtc.PeerConnection, payload json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return err
	}
	return pc.SetRemoteDescription(desc)
}

func wsEndpoint(httpBase string) (string, error) {
	u, err := url.Parse(httpBase)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", httpBase)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server URL must be http(s), got %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}
