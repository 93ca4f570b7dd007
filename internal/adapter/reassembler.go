package adapter

import (
	"time"

	"github.com/1ureka/gamenet/internal/protocol"
)

// delivery is one frame released to the application.
type delivery struct {
	frame      *protocol.Frame
	arrival    time.Time
	outOfOrder bool
}

// Reassembler restores send order on the reliable channel. Frames ahead of the
// contiguous front wait in a buffer keyed by extended sequence number; late
// and duplicate frames are dropped. The buffer is unbounded: a gap the sender
// never fills holds back everything behind it until the session closes.
//
// Comparisons use serial-number arithmetic on the 16-bit wire value against a
// 64-bit extended expected counter, so wraparound is classified correctly as
// long as a frame is less than 32768 ahead of the front.
type Reassembler struct {
	expected uint64
	buffer   map[uint64]delivery
}

// NewReassembler creates a reassembler expecting sequence number 0.
func NewReassembler() *Reassembler {
	return &Reassembler{buffer: make(map[uint64]delivery)}
}

// Feed processes an incoming frame and returns every frame that can now be
// delivered, in sequence order. Returns nil if none are ready.
func (r *Reassembler) Feed(f *protocol.Frame, arrival time.Time) []delivery {
	d := seqDiff(f.Seq, uint16(r.expected))

	if d < 0 {
		return nil
	}

	if d > 0 {
		ext := r.expected + uint64(d)
		if _, ok := r.buffer[ext]; !ok {
			r.buffer[ext] = delivery{frame: f, arrival: arrival}
		}
		return nil
	}

	result := []delivery{{frame: f, arrival: arrival}}
	r.expected++

	for {
		next, ok := r.buffer[r.expected]
		if !ok {
			break
		}
		delete(r.buffer, r.expected)
		result = append(result, next)
		r.expected++
	}

	return result
}

// Expected returns the wire sequence number the reassembler is waiting for.
func (r *Reassembler) Expected() uint16 {
	return uint16(r.expected)
}

// Pending returns the number of buffered frames.
func (r *Reassembler) Pending() int {
	return len(r.buffer)
}

// Reset discards every buffered frame without delivering it.
func (r *Reassembler) Reset() {
	clear(r.buffer)
}

// OrderDetector flags disorder on the unreliable channel. It never buffers:
// every frame is delivered on arrival and only the flag is computed.
type OrderDetector struct {
	maxSeen uint64
	seen    bool
}

// Observe reports whether seq is at or behind the highest sequence number seen
// so far, and advances that maximum otherwise. The first frame is never out
// of order.
func (o *OrderDetector) Observe(seq uint16) (outOfOrder bool) {
	if !o.seen {
		o.seen = true
		o.maxSeen = uint64(seq)
		return false
	}

	d := seqDiff(seq, uint16(o.maxSeen))
	if d <= 0 {
		return true
	}
	o.maxSeen += uint64(d)
	return false
}

// MaxSeen returns the highest wire sequence number observed.
func (o *OrderDetector) MaxSeen() uint16 {
	return uint16(o.maxSeen)
}
