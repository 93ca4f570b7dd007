// Package protocol defines the frame format shared by both delivery channels.
package protocol

// Channel identifies one of the two logical delivery modes.
type Channel uint8

// Channel tag constants, as they appear in byte 0 of every frame.
const (
	Unreliable Channel = 0x00 // unordered, lossy
	Reliable   Channel = 0x01 // ordered, gap-free
)

// HeaderSize is the fixed header size: Channel(1) + Seq(2) + Timestamp(8).
const HeaderSize = 11

// ChannelFromReliable maps the transport's reliable flag to a Channel.
func ChannelFromReliable(reliable bool) Channel {
	if reliable {
		return Reliable
	}
	return Unreliable
}

// IsReliable reports whether c is the reliable channel.
func (c Channel) IsReliable() bool { return c == Reliable }

func (c Channel) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Short returns the three-letter tag used in log lines.
func (c Channel) Short() string {
	if c == Reliable {
		return "REL"
	}
	return "UNR"
}

// Frame is one wire unit: header plus a JSON-object payload.
type Frame struct {
	Channel   Channel
	Seq       uint16 // per-channel send sequence, wraps at 65536
	Timestamp uint64 // sender wall clock, milliseconds since epoch
	Payload   []byte // JSON object
}
