package signaling

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

func init() {
	util.DisableLogging()
}

func wsURL(ts *httptest.Server, pin string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?pin=" + pin
}

func TestServerRejectsWrongPIN(t *testing.T) {
	srv := NewServer("1234")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	_, err := connect(context.Background(), wsURL(ts, "0000"))
	if err == nil || !strings.Contains(err.Error(), "invalid PIN") {
		t.Fatalf("expected invalid PIN error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := srv.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("rejected client reached Accept: %v", err)
	}
}

func TestServerAcceptsMultipleClients(t *testing.T) {
	srv := NewServer("1234")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 3 {
		client, err := connect(ctx, wsURL(ts, "1234"))
		if err != nil {
			t.Fatalf("client %d: %v", i, err)
		}
		defer client.Close()

		conn, err := srv.Accept(ctx)
		if err != nil {
			t.Fatalf("Accept %d: %v", i, err)
		}
		conn.Close()
	}
}

func TestServerCloseUnblocksAccept(t *testing.T) {
	srv := NewServer("1234")
	done := make(chan error, 1)
	go func() {
		_, err := srv.Accept(context.Background())
		done <- err
	}()

	srv.Close()
	srv.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrServerClosed) {
			t.Fatalf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept still blocked after Close")
	}
}

func TestGeneratePIN(t *testing.T) {
	pin := GeneratePIN(6)
	if len(pin) != 6 {
		t.Fatalf("length: got %d", len(pin))
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit in PIN %q", pin)
		}
	}
}

// fakePeer records what the signaling exchange applies to it.
type fakePeer struct {
	mu         sync.Mutex
	remote     []webrtc.SessionDescription
	local      []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
}

func (f *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = append(f.local, d)
	return nil
}

func (f *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakePeer) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (f *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

// wsPair returns two connected WebSocket endpoints.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	srv := NewServer("1")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := connect(ctx, wsURL(ts, "1"))
	if err != nil {
		t.Fatal(err)
	}
	server, err = srv.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}

// TestOfferAnswerExchange drives the host sender against the client receiver
// with recording peers.
func TestOfferAnswerExchange(t *testing.T) {
	hostConn, clientConn := wsPair(t)

	hostPeer, clientPeer := &fakePeer{}, &fakePeer{}
	hs := &sender{tr: hostPeer, conn: hostConn}
	hr := &receiver{tr: hostPeer, conn: hostConn, sender: hs}
	cs := &sender{tr: clientPeer, conn: clientConn}
	cr := &receiver{tr: clientPeer, conn: clientConn, sender: cs}

	go hr.watch()
	go cr.watch()

	if err := hs.sendOffer(); err != nil {
		t.Fatalf("sendOffer: %v", err)
	}
	mid := "0"
	if err := cs.sendCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid}); err != nil {
		t.Fatalf("sendCandidate: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		hostPeer.mu.Lock()
		done := len(hostPeer.remote) == 1 && len(hostPeer.candidates) == 1
		hostPeer.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	clientPeer.mu.Lock()
	defer clientPeer.mu.Unlock()
	hostPeer.mu.Lock()
	defer hostPeer.mu.Unlock()

	if len(clientPeer.remote) != 1 || clientPeer.remote[0].SDP != "offer-sdp" {
		t.Fatalf("client remote descriptions: %+v", clientPeer.remote)
	}
	if len(clientPeer.local) != 1 || clientPeer.local[0].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("client local descriptions: %+v", clientPeer.local)
	}
	if len(hostPeer.remote) != 1 || hostPeer.remote[0].SDP != "answer-sdp" {
		t.Fatalf("host remote descriptions: %+v", hostPeer.remote)
	}
	if len(hostPeer.candidates) != 1 || *hostPeer.candidates[0].SDPMid != "0" {
		t.Fatalf("host candidates: %+v", hostPeer.candidates)
	}
}

func TestReceiverRejectsUnknownMessage(t *testing.T) {
	hostConn, clientConn := wsPair(t)

	r := &receiver{tr: &fakePeer{}, conn: clientConn, sender: &sender{tr: &fakePeer{}, conn: clientConn}}
	errCh := make(chan error, 1)
	go func() { errCh <- r.watch() }()

	if err := hostConn.WriteJSON(message{Type: "bye"}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "bye") {
			t.Fatalf("got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("receiver did not fail")
	}
}

// TestEstablishLoopback runs the whole flow over a real signaling server and
// real WebRTC transports on the loopback interface.
func TestEstablishLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC loopback in short mode")
	}

	cfg := config.Default().Transport
	cfg.ICEServers = nil

	srv := NewServer("4321")
	addr, err := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	type result struct {
		tr  interface{ Close() error }
		err error
	}
	hostCh := make(chan result, 1)
	go func() {
		tr, err := srv.Establish(ctx, cfg)
		if err != nil {
			hostCh <- result{nil, err}
			return
		}
		hostCh <- result{tr, nil}
	}()

	url := "ws://" + addr.String() + "/ws?pin=" + srv.PIN()
	client, err := EstablishAsClient(ctx, url, cfg)
	if err != nil {
		if ctx.Err() != nil {
			t.Skipf("loopback WebRTC unavailable: %v", err)
		}
		t.Fatalf("EstablishAsClient: %v", err)
	}
	defer client.Close()

	host := <-hostCh
	if host.err != nil {
		t.Fatalf("Establish: %v", host.err)
	}
	defer host.tr.Close()

	if err := client.TrySend(protocol.Reliable, []byte("hello")); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
}
