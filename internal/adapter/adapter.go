// Package adapter binds the frame codec, the sequencer, the reorder engine and
// the metrics engine to a secure transport. A Session is one connection; a
// Registry tracks the live sessions of a process.
package adapter

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/protocol"
)

// Transport is the secure, multiplexed connection a Session rides on.
// OnMessage callbacks for the two channels may run concurrently.
type Transport interface {
	// Send hands a frame to the channel, blocking while the channel is
	// congested. It returns once the frame is queued.
	Send(ctx context.Context, ch protocol.Channel, data []byte) error
	// TrySend is Send without blocking; it fails when the channel is congested.
	TrySend(ch protocol.Channel, data []byte) error
	// OnMessage registers the callback for every inbound message.
	OnMessage(fn func(ch protocol.Channel, data []byte))
	// Done is closed when the connection terminates.
	Done() <-chan struct{}
	Close() error
}

// Record is what the application handler receives for each delivered frame.
type Record struct {
	Seq        uint16
	Timestamp  uint64 // sender wall clock, ms since epoch
	Payload    json.RawMessage
	Channel    protocol.Channel
	OutOfOrder bool // unreliable only: seq was at or behind the highest seen
	Arrival    time.Time
	RTTMs      float64
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// IsAck reports whether the record is a peer's acknowledgment.
func (r Record) IsAck() bool {
	_, ok := protocol.ParseAck(r.Payload)
	return ok
}

// Handler receives delivered frames. OnDeliver is invoked at most once per
// delivered frame, never for dropped, duplicate or malformed ones, and never
// concurrently for the same session.
type Handler interface {
	OnDeliver(rec Record, reliable bool)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(rec Record, reliable bool)

// OnDeliver calls f(rec, reliable).
func (f HandlerFunc) OnDeliver(rec Record, reliable bool) { f(rec, reliable) }

// Report is a snapshot of both channels of one session.
type Report struct {
	ID          uint32
	Reliable    metrics.Stats
	Unreliable  metrics.Stats
	Pending     int    // reliable frames waiting in the reorder buffer
	ExpectedSeq uint16 // next reliable seq the reorder engine waits for
	MaxSeenSeq  uint16 // highest unreliable seq seen
	At          time.Time
}

// Channel returns the stats of ch.
func (r Report) Channel(ch protocol.Channel) metrics.Stats {
	if ch == protocol.Reliable {
		return r.Reliable
	}
	return r.Unreliable
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry tracks live sessions by ID and removes them automatically once
// they are done.
type Registry struct {
	mu     sync.Mutex
	routes map[uint32]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[uint32]*Session)}
}

// Register adds s and starts an auto-cleanup goroutine that removes the entry
// when the session is done.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.routes[s.ID()] = s
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.mu.Lock()
		if r.routes[s.ID()] == s {
			delete(r.routes, s.ID())
		}
		r.mu.Unlock()
	}()
}

// Lookup returns the live session with the given id.
func (r *Registry) Lookup(id uint32) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.routes[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}

// Snapshots returns a Report per live session, ordered by ID.
func (r *Registry) Snapshots() []Report {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.routes))
	for _, s := range r.routes {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	reports := make([]Report, 0, len(sessions))
	for _, s := range sessions {
		reports = append(reports, s.Snapshot())
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
	return reports
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.routes))
	for _, s := range r.routes {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
