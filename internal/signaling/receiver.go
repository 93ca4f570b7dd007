package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// receiver applies the remote side's signaling messages to the transport.
type receiver struct {
	tr     peer
	conn   *websocket.Conn
	sender *sender
}

// watch reads messages until the WebSocket fails or is closed. An offer is
// answered immediately; answers and candidates are applied as they come.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return fmt.Errorf("apply offer: %w", err)
			}
			if err := r.sender.sendAnswer(); err != nil {
				return fmt.Errorf("send answer: %w", err)
			}

		case msgTypeAnswer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return fmt.Errorf("apply answer: %w", err)
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if err := r.tr.AddICECandidate(init); err != nil {
				return fmt.Errorf("add ICE candidate: %w", err)
			}

		default:
			return fmt.Errorf("unexpected signaling message type %q", msg.Type)
		}
	}
}
