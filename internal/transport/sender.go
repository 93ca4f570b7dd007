package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

// sender is a goroutine-based frame writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	ch          protocol.Channel
	inbox       chan []byte
	drainSignal chan struct{}
	highWater   uint64
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled; a write
// error calls fail and exits too.
func newSender(ctx context.Context, ch protocol.Channel, dc *webrtc.DataChannel, openSignal <-chan struct{},
	queue, highWater, lowWater int, fail func(error)) *sender {
	s := &sender{
		ch:          ch,
		inbox:       make(chan []byte, queue),
		drainSignal: make(chan struct{}, 1),
		highWater:   uint64(highWater),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWater))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal, fail)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}, fail func(error)) {
	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send frames with backpressure.
	for {
		select {
		case data := <-s.inbox:
			if dc.BufferedAmount() > s.highWater {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(data); err != nil {
				util.LogError("failed to send %s frame (%d bytes): %v", s.ch, len(data), err)
				fail(err)
				return
			}

			util.Stats.AddSent(len(data))
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a frame for transmission. It blocks while the queue is full
// and fails once ctx is cancelled or done is closed.
func (s *sender) send(ctx context.Context, done <-chan struct{}, data []byte) error {
	select {
	case s.inbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrClosed
	}
}

// trySend enqueues a frame without blocking.
func (s *sender) trySend(data []byte) error {
	select {
	case s.inbox <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// queued returns the number of frames waiting in the queue.
func (s *sender) queued() int {
	return len(s.inbox)
}
