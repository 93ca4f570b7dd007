package metrics

import (
	"time"

	"github.com/1ureka/gamenet/internal/protocol"
)

// Summary is the min/avg/max of a sample collection in milliseconds.
type Summary struct {
	AvgMs   float64 `json:"avg_ms"`
	MinMs   float64 `json:"min_ms"`
	MaxMs   float64 `json:"max_ms"`
	Samples int     `json:"samples"`
}

// Stats is a point-in-time view of one channel.
type Stats struct {
	Channel          protocol.Channel `json:"channel"`
	PacketsReceived  uint64           `json:"packets_received"`
	PacketsDelivered uint64           `json:"packets_delivered"`
	PacketsSent      uint64           `json:"packets_sent"`
	BytesReceived    uint64           `json:"bytes_received"`
	OutOfOrder       uint64           `json:"out_of_order"`
	RTT              Summary          `json:"rtt"`
	Jitter           Summary          `json:"jitter"`
	LastRTTMs        float64          `json:"last_rtt_ms"`
	ThroughputBps    float64          `json:"throughput_bps"`
	DeliveryRatio    float64          `json:"delivery_ratio"` // delivered / received
	Elapsed          time.Duration    `json:"elapsed"`
}

// DeliveryRatioFor returns received / peerSent, for when the sender's count
// is known out of band. It is 0 when peerSent is 0.
func (s Stats) DeliveryRatioFor(peerSent uint64) float64 {
	if peerSent == 0 {
		return 0
	}
	return float64(s.PacketsReceived) / float64(peerSent)
}

// ThroughputKbps is ThroughputBps in kilobits per second.
func (s Stats) ThroughputKbps() float64 {
	return s.ThroughputBps / 1000
}
