package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN: the tool pairs peers
// that can reach each other directly once introduced.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	})
}

// localDescriptionPayload creates the local description (offer or answer),
// waits for ICE gathering to complete, and returns the full description as
// the opaque payload relayed through the rendezvous server. Candidates ride
// inside the SDP, so no trickle channel is needed.
func localDescriptionPayload(ctx context.Context, pc *webrtc.PeerConnection, create func() (webrtc.SessionDescription, error)) (json.RawMessage, error) {
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

	local := pc.LocalDescription()
	if local == nil {
		return nil, fmt.Errorf("missing local description after gathering")
	}
	return json.Marshal(local)
}

func setRemoteFromPayload(pc *webrtc.PeerConnection, payload json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("peer payload is not a session description: %w", err)
	}
	return pc.SetRemoteDescription(desc)
}
