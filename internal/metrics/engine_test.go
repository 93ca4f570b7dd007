package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/1ureka/gamenet/internal/protocol"
)

// frameAt builds a frame sent at base+sentOffset with a payload of n bytes.
func frameAt(base time.Time, sentOffset time.Duration, n int) *protocol.Frame {
	return &protocol.Frame{
		Channel:   protocol.Reliable,
		Timestamp: uint64(base.Add(sentOffset).UnixMilli()),
		Payload:   make([]byte, n),
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestObserveRTTAndJitter(t *testing.T) {
	e := NewEngine()
	base := time.UnixMilli(1_700_000_000_000)

	// Latencies 10, 30, 20 ms.
	latencies := []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond}
	for i, l := range latencies {
		sent := time.Duration(i) * 100 * time.Millisecond
		e.Arrive(protocol.Reliable)
		e.Observe(protocol.Reliable, frameAt(base, sent, 10), base.Add(sent+l))
	}

	s := e.Snapshot(protocol.Reliable, base.Add(time.Second))

	if s.RTT.Samples != 3 {
		t.Fatalf("RTT samples: got %d, want 3", s.RTT.Samples)
	}
	if !approx(s.RTT.AvgMs, 20) || !approx(s.RTT.MinMs, 10) || !approx(s.RTT.MaxMs, 30) {
		t.Errorf("RTT summary: got %+v", s.RTT)
	}
	// Jitter samples: |30-10| = 20, |20-30| = 10.
	if s.Jitter.Samples != 2 {
		t.Fatalf("jitter samples: got %d, want 2", s.Jitter.Samples)
	}
	if !approx(s.Jitter.AvgMs, 15) || !approx(s.Jitter.MinMs, 10) || !approx(s.Jitter.MaxMs, 20) {
		t.Errorf("jitter summary: got %+v", s.Jitter)
	}
	if !approx(s.LastRTTMs, 20) {
		t.Errorf("last RTT: got %v, want 20", s.LastRTTMs)
	}
	if s.PacketsDelivered != 3 || s.PacketsReceived != 3 || s.BytesReceived != 30 {
		t.Errorf("counters: %+v", s)
	}
}

// TestJitterCountLaw checks len(jitter) == max(0, len(rtt)-1) at every step.
func TestJitterCountLaw(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	s := e.Snapshot(protocol.Unreliable, base)
	if s.RTT.Samples != 0 || s.Jitter.Samples != 0 {
		t.Fatalf("empty engine has samples: %+v", s)
	}

	for i := 1; i <= 50; i++ {
		lat := time.Duration(i%7) * time.Millisecond
		e.Observe(protocol.Unreliable, frameAt(base, 0, 1), base.Add(lat))

		s := e.Snapshot(protocol.Unreliable, base)
		if s.RTT.Samples != i {
			t.Fatalf("step %d: RTT samples %d", i, s.RTT.Samples)
		}
		if s.Jitter.Samples != i-1 {
			t.Fatalf("step %d: jitter samples %d, want %d", i, s.Jitter.Samples, i-1)
		}
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	e.Observe(protocol.Reliable, frameAt(base, 0, 4), base.Add(5*time.Millisecond))
	e.Sent(protocol.Unreliable)
	e.Sent(protocol.Unreliable)

	rel := e.Snapshot(protocol.Reliable, base)
	unr := e.Snapshot(protocol.Unreliable, base)

	if rel.PacketsDelivered != 1 || rel.PacketsSent != 0 {
		t.Errorf("reliable: %+v", rel)
	}
	if unr.PacketsDelivered != 0 || unr.PacketsSent != 2 || unr.RTT.Samples != 0 {
		t.Errorf("unreliable: %+v", unr)
	}
}

func TestThroughput(t *testing.T) {
	e := NewEngine()
	base := time.UnixMilli(1_000_000)

	e.Observe(protocol.Reliable, frameAt(base, 0, 500), base)
	e.Observe(protocol.Reliable, frameAt(base, 0, 500), base.Add(time.Second))

	// No elapsed time since start: throughput is 0, not Inf.
	if s := e.Snapshot(protocol.Reliable, base); s.ThroughputBps != 0 {
		t.Errorf("zero elapsed throughput: got %v", s.ThroughputBps)
	}

	s := e.Snapshot(protocol.Reliable, base.Add(2*time.Second))
	// 1000 bytes * 8 / 2 s.
	if !approx(s.ThroughputBps, 4000) {
		t.Errorf("throughput: got %v, want 4000", s.ThroughputBps)
	}
	if !approx(s.ThroughputKbps(), 4) {
		t.Errorf("throughput kbps: got %v, want 4", s.ThroughputKbps())
	}

	// Nothing observed on the other channel.
	if s := e.Snapshot(protocol.Unreliable, base.Add(time.Hour)); s.ThroughputBps != 0 || s.Elapsed != 0 {
		t.Errorf("idle channel: %+v", s)
	}
}

func TestDeliveryRatio(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	if s := e.Snapshot(protocol.Reliable, base); s.DeliveryRatio != 0 {
		t.Errorf("empty ratio: got %v", s.DeliveryRatio)
	}

	for range 4 {
		e.Arrive(protocol.Reliable)
	}
	for range 3 {
		e.Observe(protocol.Reliable, frameAt(base, 0, 1), base)
	}

	s := e.Snapshot(protocol.Reliable, base)
	if !approx(s.DeliveryRatio, 0.75) {
		t.Errorf("delivered/received: got %v, want 0.75", s.DeliveryRatio)
	}
	if !approx(s.DeliveryRatioFor(8), 0.5) {
		t.Errorf("received/sent: got %v, want 0.5", s.DeliveryRatioFor(8))
	}
	if s.DeliveryRatioFor(0) != 0 {
		t.Errorf("received/0 should be 0")
	}
}

func TestStopFreezesAccumulation(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	e.Arrive(protocol.Unreliable)
	e.Observe(protocol.Unreliable, frameAt(base, 0, 2), base)
	e.Stop()

	e.Arrive(protocol.Unreliable)
	e.Observe(protocol.Unreliable, frameAt(base, 0, 2), base)
	e.Sent(protocol.Unreliable)
	e.OutOfOrder(protocol.Unreliable)

	s := e.Snapshot(protocol.Unreliable, base)
	if s.PacketsReceived != 1 || s.PacketsDelivered != 1 || s.PacketsSent != 0 || s.OutOfOrder != 0 {
		t.Errorf("accumulated after Stop: %+v", s)
	}
	if !e.Stopped() {
		t.Error("Stopped() should be true")
	}
}
