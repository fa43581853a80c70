// Command rendezvous-pair is an interactive peer for the rendezvous relay.
// One side creates a code and produces an offer, the other joins with the
// code; the tool then opens a WebRTC DataChannel between the two and runs a
// ping/pong to prove the direct path works.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/peerlink/rendezvous/client"
)

const (
	codeLength  = 6
	pairTimeout = 2 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	role := flag.String("role", "", "Role: create or join")
	server := flag.String("server", "", "Rendezvous server URL, e.g. ws://localhost:3001")
	code := flag.String("code", "", "Pairing code (join only; create generates one)")
	flag.Parse()

	if *server == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Rendezvous server (e.g. ws://localhost:3001)").
			Show()
		*server = raw
	}
	wsURL, err := normalizeServerURL(*server)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	if *role == "" {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Create — publish an offer and wait", "Join — enter a code from the other side"}).
			WithDefaultText("Select your role").
			Show()
		if strings.HasPrefix(choice, "Create") {
			*role = "create"
		} else {
			*role = "join"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pairTimeout)
	defer cancel()

	switch *role {
	case "create":
		err = runCreate(ctx, wsURL)
	case "join":
		if *code == "" {
			raw, _ := pterm.DefaultInteractiveTextInput.
				WithDefaultText("Pairing code").
				Show()
			*code = strings.ToUpper(strings.TrimSpace(raw))
		}
		err = runJoin(ctx, wsURL, *code)
	default:
		err = fmt.Errorf("invalid -role %q: must be create or join", *role)
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// runCreate is the producer side: publish an offer under a fresh code, wait
// for the answer push, then prove the DataChannel.
func runCreate(ctx context.Context, wsURL string) error {
	pc, err := newPeerConnection()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	defer pc.Close()

	dc, err := pc.CreateDataChannel("pair", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}

	pong := make(chan string, 1)
	dc.OnOpen(func() {
		_ = dc.SendText("ping")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case pong <- string(msg.Data):
		default:
		}
	})

	offer, err := localDescriptionPayload(ctx, pc, func() (webrtc.SessionDescription, error) {
		return pc.CreateOffer(nil)
	})
	if err != nil {
		return fmt.Errorf("build offer: %w", err)
	}

	relay, err := client.DialPush(ctx, wsURL)
	if err != nil {
		return err
	}
	defer relay.Close()

	code := generateCode(codeLength)
	if err := relay.StoreOffer(code, offer); err != nil {
		return fmt.Errorf("store offer: %w", err)
	}

	pterm.Println()
	pterm.Info.Println("Share this code with the other side:")
	pterm.DefaultBox.Println(code)
	pterm.Println()

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for the other peer...")
	answer, err := relay.AwaitAnswer(ctx)
	if err != nil {
		spinner.Fail("no answer received")
		return err
	}
	spinner.Success("answer received")

	if err := setRemoteFromPayload(pc, answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}

	select {
	case reply := <-pong:
		pterm.Success.Printfln("Paired! DataChannel reply: %s", reply)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("data channel never opened: %w", ctx.Err())
	}
}

// runJoin is the consumer side: fetch the offer for code, send back an
// answer, and echo on the DataChannel.
func runJoin(ctx context.Context, wsURL, code string) error {
	pc, err := newPeerConnection()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	defer pc.Close()

	done := make(chan struct{}, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = dc.SendText("pong")
			select {
			case done <- struct{}{}:
			default:
			}
		})
	})

	relay, err := client.DialPush(ctx, wsURL)
	if err != nil {
		return err
	}
	defer relay.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Fetching offer...")
	offer, err := relay.RequestOffer(ctx, code)
	if err != nil {
		spinner.Fail("offer not found")
		return err
	}
	spinner.Success("offer received")

	if err := setRemoteFromPayload(pc, offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}

	answer, err := localDescriptionPayload(ctx, pc, func() (webrtc.SessionDescription, error) {
		return pc.CreateAnswer(nil)
	})
	if err != nil {
		return fmt.Errorf("build answer: %w", err)
	}
	if err := relay.SendAnswer(code, answer); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	select {
	case <-done:
		pterm.Success.Println("Paired! DataChannel is up.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("data channel never opened: %w", ctx.Err())
	}
}

// normalizeServerURL accepts http(s), ws(s), or bare host forms and returns
// the WebSocket endpoint URL.
func normalizeServerURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("server URL must not be empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "ws://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	return fmt.Sprintf("%s://%s/ws", u.Scheme, u.Host), nil
}

// generateCode returns a random uppercase alphanumeric pairing code. The
// alphabet omits easily-confused characters (0/O, 1/I).
func generateCode(length int) string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	out := make([]byte, length)
	for i := range out {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}
