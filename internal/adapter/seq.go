package adapter

import "github.com/1ureka/gamenet/internal/protocol"

// Sequencer assigns per-channel send sequence numbers for one connection.
// Counters start at 0 and wrap at 65536. It is not safe for concurrent use;
// the owning Session serializes access.
type Sequencer struct {
	next [2]uint16
}

func channelIndex(ch protocol.Channel) int {
	if ch == protocol.Reliable {
		return 1
	}
	return 0
}

// Next returns the next sequence number for ch and advances the counter.
func (s *Sequencer) Next(ch protocol.Channel) uint16 {
	i := channelIndex(ch)
	v := s.next[i]
	s.next[i]++
	return v
}

// Peek returns the number the next call to Next will return.
func (s *Sequencer) Peek(ch protocol.Channel) uint16 {
	return s.next[channelIndex(ch)]
}

// release hands back the number just returned by Next, used when the frame
// never reached the transport.
func (s *Sequencer) release(ch protocol.Channel) {
	s.next[channelIndex(ch)]--
}

// seqDiff returns the signed serial-number distance a - b (RFC 1982), so that
// 0 is one step ahead of 65535.
func seqDiff(a, b uint16) int16 {
	return int16(a - b)
}
