package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/observability"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrNotObject is returned when a payload does not encode to a JSON object.
	ErrNotObject = errors.New("payload must encode to a JSON object")
	// ErrChannelMismatch is returned when a frame's channel tag differs from
	// the transport channel it arrived on.
	ErrChannelMismatch = errors.New("frame channel does not match transport channel")
)

// ackQueue bounds the acknowledgments waiting for the ack sender. Acks beyond
// it are dropped.
const ackQueue = 256

// Option configures a Session.
type Option func(*Session)

// WithID sets the session identifier used in logs and reports.
func WithID(id uint32) Option {
	return func(s *Session) { s.id = id }
}

// WithAutoAck controls whether every delivered frame is acknowledged on the
// same channel. Enabled by default.
func WithAutoAck(enabled bool) Option {
	return func(s *Session) { s.autoAck = enabled }
}

// WithClock replaces the wall clock used for send timestamps and arrival
// times.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithCloseHook registers fn to receive the final Report when the session
// closes. Hooks run in registration order.
func WithCloseHook(fn func(Report)) Option {
	return func(s *Session) { s.hooks = append(s.hooks, fn) }
}

// Session is the endpoint controller of one connection. It owns the
// connection's sequencer, reorder state and metrics; nothing is shared with
// other sessions.
type Session struct {
	id      uint32
	tr      Transport
	handler Handler
	autoAck bool
	now     func() time.Time
	hooks   []func(Report)

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error

	// deliverMu keeps handler invocations in engine order across concurrent
	// arrivals. It is always taken before mu.
	deliverMu sync.Mutex

	// sendMu guards seq and is held across the transport enqueue, so frames
	// leave in sequence order. It is never taken while holding mu.
	sendMu sync.Mutex
	seq    Sequencer
	acks   chan ackRequest

	// mu guards everything below.
	mu      sync.Mutex
	reasm   *Reassembler
	order   OrderDetector
	metrics *metrics.Engine
	closed  bool
}

// NewSession binds a Session to tr and starts listening for frames. The
// session closes itself when tr terminates or ctx is cancelled.
func NewSession(ctx context.Context, tr Transport, h Handler, opts ...Option) *Session {
	sCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		tr:      tr,
		handler: h,
		autoAck: true,
		now:     time.Now,
		ctx:     sCtx,
		cancel:  cancel,
		acks:    make(chan ackRequest, ackQueue),
		reasm:   NewReassembler(),
		metrics: metrics.NewEngine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == 0 {
		s.id = util.NewSessionID("session")
	}

	util.Stats.AddSession()
	observability.SessionOpened()

	go s.ackLoop()

	tr.OnMessage(func(ch protocol.Channel, data []byte) {
		_ = s.HandleFrame(data, ch)
	})

	go func() {
		select {
		case <-tr.Done():
			util.LogInfo("[%08x] transport terminated", s.id)
		case <-s.ctx.Done():
		}
		s.Close()
	}()

	return s
}

// ID returns the session identifier.
func (s *Session) ID() uint32 { return s.id }

// Done returns a channel that is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// Send marshals payload to JSON and sends it on the reliable or unreliable
// channel. It returns the sequence number assigned to the frame.
func (s *Session) Send(ctx context.Context, payload any, reliable bool) (uint16, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	return s.SendRaw(ctx, data, reliable)
}

// SendRaw sends an already encoded JSON object.
func (s *Session) SendRaw(ctx context.Context, payload []byte, reliable bool) (uint16, error) {
	if !isObject(payload) {
		return 0, ErrNotObject
	}
	ch := protocol.ChannelFromReliable(reliable)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	// The enqueue may block on backpressure; only sendMu is held meanwhile,
	// so arrivals keep being processed.
	s.sendMu.Lock()
	seq := s.seq.Next(ch)
	data := protocol.EncodeFrame(ch, seq, s.nowMs(), payload)
	err := s.tr.Send(ctx, ch, data)
	if err != nil {
		// Never reached the wire: do not leave a gap at the peer.
		s.seq.release(ch)
	}
	s.sendMu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("send %s seq %d: %w", ch, seq, err)
	}

	s.mu.Lock()
	s.metrics.Sent(ch)
	s.mu.Unlock()

	observability.RecordSent(ch, observability.KindData)
	util.LogDebug("[%08x] sent %s seq=%d (%d bytes)", s.id, ch.Short(), seq, len(payload))
	return seq, nil
}

func isObject(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '{' && utf8.Valid(trimmed) && json.Valid(trimmed)
}

func (s *Session) nowMs() uint64 {
	return uint64(s.now().UnixMilli())
}

// ---------------------------------------------------------------------------
// Receiving
// ---------------------------------------------------------------------------

// HandleFrame processes one raw message that arrived on transport channel ch.
// Malformed frames are dropped and logged; the returned error is informational
// and never affects the connection.
func (s *Session) HandleFrame(data []byte, ch protocol.Channel) error {
	arrival := s.now()

	f, err := protocol.Decode(data)
	if err != nil {
		reason := observability.ReasonDecode
		var fe *protocol.FormatError
		if errors.As(err, &fe) {
			reason = observability.ReasonFormat
		}
		util.Stats.AddDropped()
		observability.RecordDrop(ch, reason)
		util.LogWarning("[%08x] dropping %s frame: %v", s.id, ch.Short(), err)
		return err
	}
	if f.Channel != ch {
		util.Stats.AddDropped()
		observability.RecordDrop(ch, observability.ReasonChannelMismatch)
		util.LogWarning("[%08x] dropping seq=%d: tagged %s, arrived on %s", s.id, f.Seq, f.Channel, ch)
		return ErrChannelMismatch
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	records, err := s.advance(f, arrival)
	if err != nil {
		return err
	}

	for _, rec := range records {
		observability.RecordDelivery(ch, rec.OutOfOrder, rec.RTTMs, rec.jitterMs, rec.hasJitter)
		if s.handler != nil {
			s.handler.OnDeliver(rec.Record, ch.IsReliable())
		}
	}
	return nil
}

// pendingRecord carries what the handler and the exporter need after the
// state lock is released.
type pendingRecord struct {
	Record
	jitterMs  float64
	hasJitter bool
}

// advance feeds f through the reorder engine and, for every frame it
// releases, updates metrics and queues the acknowledgment. It holds mu for
// the whole step and never waits on the transport.
func (s *Session) advance(f *protocol.Frame, arrival time.Time) ([]pendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ch := f.Channel
	s.metrics.Arrive(ch)
	observability.RecordReceived(ch)

	var ready []delivery
	if ch.IsReliable() {
		ready = s.reasm.Feed(f, arrival)
		if len(ready) == 0 {
			util.LogDebug("[%08x] holding REL seq=%d (expected %d, %d buffered)",
				s.id, f.Seq, s.reasm.Expected(), s.reasm.Pending())
		}
	} else {
		ooo := s.order.Observe(f.Seq)
		if ooo {
			s.metrics.OutOfOrder(ch)
		}
		ready = []delivery{{frame: f, arrival: arrival, outOfOrder: ooo}}
	}

	records := make([]pendingRecord, 0, len(ready))
	for _, d := range ready {
		sample := s.metrics.Observe(ch, d.frame, d.arrival)
		s.acknowledge(d.frame)

		records = append(records, pendingRecord{
			Record: Record{
				Seq:        d.frame.Seq,
				Timestamp:  d.frame.Timestamp,
				Payload:    d.frame.Payload,
				Channel:    ch,
				OutOfOrder: d.outOfOrder,
				Arrival:    d.arrival,
				RTTMs:      sample.RTTMs,
			},
			jitterMs:  sample.JitterMs,
			hasJitter: sample.HasJitter,
		})
	}
	return records, nil
}

type ackRequest struct {
	ch   protocol.Channel
	echo uint16
}

// acknowledge queues an echo of f's sequence number for the ack sender. It is
// best-effort: a full queue or a congested channel drops the ack. Acks are
// never acked.
func (s *Session) acknowledge(f *protocol.Frame) {
	if !s.autoAck {
		return
	}
	if _, isAck := protocol.ParseAck(f.Payload); isAck {
		return
	}

	select {
	case s.acks <- ackRequest{ch: f.Channel, echo: f.Seq}:
	default:
		util.LogDebug("[%08x] ack for %s seq=%d dropped: queue full", s.id, f.Channel.Short(), f.Seq)
	}
}

// ackLoop sends queued acks in arrival order until the session closes.
func (s *Session) ackLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case a := <-s.acks:
			s.sendAck(a)
		}
	}
}

func (s *Session) sendAck(a ackRequest) {
	s.sendMu.Lock()
	seq := s.seq.Next(a.ch)
	data := protocol.EncodeFrame(a.ch, seq, s.nowMs(), protocol.NewAck(a.echo))
	err := s.tr.TrySend(a.ch, data)
	if err != nil {
		s.seq.release(a.ch)
	}
	s.sendMu.Unlock()

	if err != nil {
		util.LogDebug("[%08x] ack for %s seq=%d dropped: %v", s.id, a.ch.Short(), a.echo, err)
		return
	}

	s.mu.Lock()
	s.metrics.Sent(a.ch)
	s.mu.Unlock()
	observability.RecordSent(a.ch, observability.KindAck)
}

// ---------------------------------------------------------------------------
// Statistics & lifecycle
// ---------------------------------------------------------------------------

// Snapshot returns the current statistics of both channels.
func (s *Session) Snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Report {
	now := s.now()
	return Report{
		ID:          s.id,
		Reliable:    s.metrics.Snapshot(protocol.Reliable, now),
		Unreliable:  s.metrics.Snapshot(protocol.Unreliable, now),
		Pending:     s.reasm.Pending(),
		ExpectedSeq: s.reasm.Expected(),
		MaxSeenSeq:  s.order.MaxSeen(),
		At:          now,
	}
}

// Close tears the session down exactly once: buffered reliable frames are
// discarded (not delivered), metrics stop accumulating, the transport is
// released and the final Report is handed to the close hooks.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		report := s.snapshotLocked()
		s.reasm.Reset()
		s.metrics.Stop()
		s.mu.Unlock()

		s.cancel()
		s.closeErr = s.tr.Close()

		if report.Pending > 0 {
			util.LogWarning("[%08x] discarded %d buffered reliable frames (waiting for seq %d)",
				s.id, report.Pending, report.ExpectedSeq)
		}

		util.Stats.RemoveSession()
		observability.SessionClosed()

		for _, hook := range s.hooks {
			hook(report)
		}
		util.LogInfo("[%08x] session closed", s.id)
	})
	return s.closeErr
}
