// Package transport provides the secure two-channel link between endpoints:
// one PeerConnection carrying a reliable ordered DataChannel and an
// unreliable unordered one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

var (
	// ErrClosed is returned by sends on a terminated Transport.
	ErrClosed = errors.New("transport closed")
	// ErrNotReady is returned by TrySend before both channels are open.
	ErrNotReady = errors.New("transport not ready")
	// ErrBackpressure is returned by TrySend when the send queue is full.
	ErrBackpressure = errors.New("send queue full")
)

// maxEarlyMessages bounds the frames held for a handler that is not yet
// registered.
const maxEarlyMessages = 1024

type earlyMessage struct {
	ch   protocol.Channel
	data []byte
}

// Transport wraps a single PeerConnection and its two DataChannels, providing
// a high-level API for signaling exchange, frame sending with backpressure,
// and frame receiving.
//
// Its lifecycle is governed by the DataChannel states and the context passed
// at construction time: closing either channel, a failed PeerConnection or a
// cancelled ctx terminates it.
type Transport struct {
	pc      *webrtc.PeerConnection
	dcs     [2]*webrtc.DataChannel // indexed by protocol.Channel
	senders [2]*sender

	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	handler func(protocol.Channel, []byte)
	early   []earlyMessage
}

// NewTransport creates a Transport backed by a new PeerConnection and the two
// pre-negotiated DataChannels. The caller should perform signaling via the
// exposed methods (CreateOffer / CreateAnswer / …) and then use Send /
// OnMessage for data transfer.
func NewTransport(ctx context.Context, cfg config.Transport) (*Transport, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		pc:         pc,
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	for _, ch := range []protocol.Channel{protocol.Reliable, protocol.Unreliable} {
		dc, err := newDataChannel(pc, ch)
		if err != nil {
			tCancel()
			pc.Close()
			return nil, fmt.Errorf("create %s DataChannel: %w", ch, err)
		}
		t.dcs[ch] = dc
	}

	// Open gate: each sender waits for its own channel, Ready waits for both.
	var opens [2]chan struct{}
	for _, ch := range []protocol.Channel{protocol.Reliable, protocol.Unreliable} {
		open := make(chan struct{})
		opens[ch] = open
		var once sync.Once
		dc := t.dcs[ch]

		dc.OnOpen(func() {
			once.Do(func() {
				util.LogDebug("%s DataChannel open", ch)
				close(open)
			})
		})
		dc.OnClose(func() {
			util.LogInfo("%s DataChannel closed", ch)
			tCancel()
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			t.dispatch(ch, msg.Data)
		})

		t.senders[ch] = newSender(tCtx, ch, dc, open,
			cfg.SendQueue, cfg.HighWaterMark, cfg.LowWaterMark,
			func(error) { tCancel() })
	}
	go func() {
		for _, open := range opens {
			select {
			case <-open:
			case <-tCtx.Done():
				return
			}
		}
		close(t.openSignal)
	}()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			tCancel()
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when both DataChannels are open and
// the Transport is ready to send and receive.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down both DataChannels and the PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(
		t.dcs[protocol.Reliable].Close(),
		t.dcs[protocol.Unreliable].Close(),
		t.pc.Close(),
	)
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// Queued returns the number of frames waiting to be written on ch.
func (t *Transport) Queued(ch protocol.Channel) int {
	return t.senders[ch].queued()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send enqueues an encoded frame on ch. Frames sent before the channels open
// are held and written once they are.
func (t *Transport) Send(ctx context.Context, ch protocol.Channel, data []byte) error {
	select {
	case <-t.ctx.Done():
		return ErrClosed
	default:
	}
	return t.senders[ch].send(ctx, t.ctx.Done(), data)
}

// TrySend enqueues an encoded frame on ch without blocking.
func (t *Transport) TrySend(ch protocol.Channel, data []byte) error {
	select {
	case <-t.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case <-t.openSignal:
	default:
		return ErrNotReady
	}
	return t.senders[ch].trySend(data)
}

// OnMessage registers the callback invoked for every inbound message, with
// the channel it arrived on. Messages that arrived before registration are
// replayed first.
func (t *Transport) OnMessage(fn func(ch protocol.Channel, data []byte)) {
	t.mu.Lock()
	t.handler = fn
	early := t.early
	t.early = nil
	t.mu.Unlock()

	for _, m := range early {
		fn(m.ch, m.data)
	}
}

func (t *Transport) dispatch(ch protocol.Channel, data []byte) {
	util.Stats.AddRecv(len(data))

	t.mu.Lock()
	fn := t.handler
	if fn == nil {
		if len(t.early) < maxEarlyMessages {
			t.early = append(t.early, earlyMessage{ch: ch, data: data})
		} else {
			util.LogWarning("dropping %s message: no handler registered", ch)
		}
	}
	t.mu.Unlock()

	if fn != nil {
		fn(ch, data)
	}
}
