package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gamenet/internal/util"
)

// pendingClients is how many authenticated clients may wait for the host to
// start their exchange.
const pendingClients = 8

// ErrServerClosed is returned by Accept once the server is closed.
var ErrServerClosed = errors.New("signaling server closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the host-side WebSocket server used during signaling. Every
// client that presents the right PIN is queued for Accept.
type Server struct {
	pin      string
	listener net.Listener
	srv      *http.Server
	connCh   chan *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewServer creates a new signaling server with the given PIN for
// authentication.
func NewServer(pin string) *Server {
	return &Server{
		pin:    pin,
		connCh: make(chan *websocket.Conn, pendingClients),
		done:   make(chan struct{}),
	}
}

// PIN returns the PIN clients must present.
func (s *Server) PIN() string { return s.pin }

// Start begins listening on addr (":0" picks a random port). It returns the
// bound address.
func (s *Server) Start(addr string) (*net.TCPAddr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener
	s.srv = &http.Server{Handler: s.Handler()}

	go func() {
		_ = s.srv.Serve(listener)
	}()

	return listener.Addr().(*net.TCPAddr), nil
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if subtle.ConstantTimeCompare([]byte(pin), []byte(s.pin)) != 1 {
		util.LogWarning("rejected signaling connection from %s: invalid PIN", r.RemoteAddr)
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case s.connCh <- conn:
		util.LogDebug("client %s queued for signaling", r.RemoteAddr)
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many pending clients"))
		conn.Close()
	}
}

// Accept blocks until a client connects, the server is closed or ctx is
// cancelled.
func (s *Server) Accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-s.done:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the listener and drops clients still waiting.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.srv != nil {
			s.srv.Close()
		}
		for {
			select {
			case conn := <-s.connCh:
				conn.Close()
			default:
				return
			}
		}
	})
}

// connect dials the given WebSocket URL and returns the connection (private).
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("failed to connect to WS server: invalid PIN")
		}
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
