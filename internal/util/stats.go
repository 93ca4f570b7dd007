package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Process-wide traffic counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/session counter. Per-connection metrics
// live in each session; this only aggregates raw transport traffic.
var Stats = &stats{}

type stats struct {
	TotalSessions  atomic.Int64 // cumulative count of sessions since process start
	ClosedSessions atomic.Int64 // cumulative count of closed sessions since process start
	BytesSent      atomic.Int64 // cumulative bytes written to the transport
	BytesRecv      atomic.Int64 // cumulative bytes read from the transport
	FramesDropped  atomic.Int64 // malformed or undecodable frames
}

func (s *stats) AddSession()    { s.TotalSessions.Add(1) }
func (s *stats) RemoveSession() { s.ClosedSessions.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddDropped()    { s.FramesDropped.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics every
// interval. extra, if non-nil, is appended to each line (e.g. live RTT).
// It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration, extra func() string) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevTotal, prevClosed int64
		for {
			select {
			case <-ticker.C:
				total := Stats.TotalSessions.Load()
				closed := Stats.ClosedSessions.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				inS := float64(recv-prevRecv) / secs
				outS := float64(sent-prevSent) / secs
				inC := total - prevTotal
				outC := closed - prevClosed

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					line := formatStats(inS, outS, inC, outC)
					if extra != nil {
						if s := extra(); s != "" {
							line += " | " + s
						}
					}
					pterm.DefaultLogger.Info(line)
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inC, outC int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓",
		FormatBytes(inS),
		FormatBytes(outS),
		inC,
		outC,
	)
}
