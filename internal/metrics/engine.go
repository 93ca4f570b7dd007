// Package metrics keeps per-channel running statistics for one connection:
// latency, jitter, throughput and delivery ratio.
//
// An Engine is owned by exactly one session and is not safe for concurrent
// use; the session serializes every call.
package metrics

import (
	"time"

	"github.com/1ureka/gamenet/internal/protocol"
)

// channelMetrics is the accumulated state of a single channel.
type channelMetrics struct {
	packetsReceived  uint64
	packetsDelivered uint64
	packetsSent      uint64
	bytesReceived    uint64
	outOfOrder       uint64

	rttSamples    []float64 // ms, arrival order
	jitterSamples []float64 // ms, |rtt[i] - rtt[i-1]|
	lastRTT       float64
	hasRTT        bool

	startTime time.Time
}

// Engine holds the metrics of both channels of one connection.
type Engine struct {
	channels [2]channelMetrics
	stopped  bool
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) channel(ch protocol.Channel) *channelMetrics {
	if ch == protocol.Reliable {
		return &e.channels[1]
	}
	return &e.channels[0]
}

// Arrive counts one decoded frame arriving on ch, whether or not it is
// delivered (late duplicates and buffered frames count too).
func (e *Engine) Arrive(ch protocol.Channel) {
	if e.stopped {
		return
	}
	e.channel(ch).packetsReceived++
}

// Sample is what Observe derived from a single delivered frame.
type Sample struct {
	RTTMs     float64
	JitterMs  float64
	HasJitter bool // false for the first sample on a channel
}

// Observe records a delivered frame. arrival is the wall-clock time the frame
// came off the transport; the difference to the embedded send timestamp is a
// one-way latency approximation reported as RTT.
func (e *Engine) Observe(ch protocol.Channel, f *protocol.Frame, arrival time.Time) Sample {
	if e.stopped {
		return Sample{}
	}
	m := e.channel(ch)

	if m.startTime.IsZero() {
		m.startTime = arrival
	}

	rtt := float64(arrival.UnixMicro())/1000 - float64(f.Timestamp)
	sample := Sample{RTTMs: rtt}

	m.rttSamples = append(m.rttSamples, rtt)
	if m.hasRTT {
		sample.JitterMs = abs(rtt - m.lastRTT)
		sample.HasJitter = true
		m.jitterSamples = append(m.jitterSamples, sample.JitterMs)
	}
	m.lastRTT = rtt
	m.hasRTT = true

	m.packetsDelivered++
	m.bytesReceived += uint64(len(f.Payload))
	return sample
}

// Sent counts one frame handed to the transport on ch.
func (e *Engine) Sent(ch protocol.Channel) {
	if e.stopped {
		return
	}
	e.channel(ch).packetsSent++
}

// OutOfOrder counts one unreliable delivery flagged as out of order.
func (e *Engine) OutOfOrder(ch protocol.Channel) {
	if e.stopped {
		return
	}
	e.channel(ch).outOfOrder++
}

// Stop freezes accumulation. Snapshots remain available.
func (e *Engine) Stop() {
	e.stopped = true
}

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool {
	return e.stopped
}

// Snapshot summarizes ch as of now.
func (e *Engine) Snapshot(ch protocol.Channel, now time.Time) Stats {
	m := e.channel(ch)

	s := Stats{
		Channel:          ch,
		PacketsReceived:  m.packetsReceived,
		PacketsDelivered: m.packetsDelivered,
		PacketsSent:      m.packetsSent,
		BytesReceived:    m.bytesReceived,
		OutOfOrder:       m.outOfOrder,
		RTT:              summarize(m.rttSamples),
		Jitter:           summarize(m.jitterSamples),
		LastRTTMs:        m.lastRTT,
	}

	if !m.startTime.IsZero() {
		s.Elapsed = now.Sub(m.startTime)
		if s.Elapsed > 0 {
			s.ThroughputBps = float64(m.bytesReceived*8) / s.Elapsed.Seconds()
		}
	}
	if m.packetsReceived > 0 {
		s.DeliveryRatio = float64(m.packetsDelivered) / float64(m.packetsReceived)
	}
	return s
}

func summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sum := Summary{MinMs: samples[0], MaxMs: samples[0], Samples: len(samples)}
	var total float64
	for _, v := range samples {
		total += v
		if v < sum.MinMs {
			sum.MinMs = v
		}
		if v > sum.MaxMs {
			sum.MaxMs = v
		}
	}
	sum.AvgMs = total / float64(len(samples))
	return sum
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
