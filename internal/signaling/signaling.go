// Package signaling orchestrates the signaling phase: from a WebSocket
// connection to an established two-channel Transport. All WebSocket and
// SDP/ICE details are internal; callers receive a ready-to-use Transport.
package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/transport"
	"github.com/1ureka/gamenet/internal/util"
)

// readyGrace is how long a transport may take to open after the WS fails.
const readyGrace = 5 * time.Second

// Establish waits for the next client and executes the host-side flow:
//  1. Accept an authenticated WS connection
//  2. Create a Transport
//  3. Send the Offer and exchange ICE candidates
//  4. Wait for both DataChannels to be ready
//  5. Close the WS connection (resource cleanup)
//  6. Return the ready Transport
//
// The server keeps listening, so Establish may be called again for the next
// client.
func (s *Server) Establish(ctx context.Context, cfg config.Transport) (*transport.Transport, error) {
	wsConn, err := s.Accept(ctx)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogInfo("client connected from %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, cfg, true)
}

// EstablishAsClient executes the full client-side signaling flow:
//  1. Connect to the host's WS server
//  2. Create a Transport
//  3. Answer the host's Offer and exchange ICE candidates
//  4. Wait for both DataChannels to be ready
//  5. Close the WS connection (resource cleanup)
//  6. Return the ready Transport
func EstablishAsClient(ctx context.Context, wsURL string, cfg config.Transport) (*transport.Transport, error) {
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogInfo("WS connected: %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, cfg, false)
}

// exchange performs the SDP/ICE exchange over wsConn. The offerer creates
// the Offer; the other side answers from the receive loop.
func exchange(ctx context.Context, wsConn *websocket.Conn, cfg config.Transport, offerer bool) (*transport.Transport, error) {
	tr, err := transport.NewTransport(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}
	s.trickle()

	// Exits when wsConn is closed (deferred by the caller).
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			tr.Close()
			return nil, fmt.Errorf("failed to send Offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogDebug("WebRTC DataChannels established, closing WS")
		return tr, nil

	case err := <-errCh:
		// The remote side closes the WS as soon as its own channels open,
		// which may be slightly before ours do.
		select {
		case <-tr.Ready():
			return tr, nil
		case <-time.After(readyGrace):
		case <-ctx.Done():
		}
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}
