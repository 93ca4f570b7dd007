package app

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/gamenet/internal/adapter"
	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/util"
)

// totals aggregates channel statistics across channels and sessions.
type totals struct {
	received  uint64
	delivered uint64
	sent      uint64
	bytes     uint64
	ooo       uint64
	rttSum    float64 // avg × samples, summed
	rttCount  int
	rttMin    float64
	rttMax    float64
	elapsed   time.Duration
}

func (t *totals) add(s metrics.Stats) {
	t.received += s.PacketsReceived
	t.delivered += s.PacketsDelivered
	t.sent += s.PacketsSent
	t.bytes += s.BytesReceived
	t.ooo += s.OutOfOrder

	if s.RTT.Samples > 0 {
		if t.rttCount == 0 || s.RTT.MinMs < t.rttMin {
			t.rttMin = s.RTT.MinMs
		}
		if t.rttCount == 0 || s.RTT.MaxMs > t.rttMax {
			t.rttMax = s.RTT.MaxMs
		}
		t.rttSum += s.RTT.AvgMs * float64(s.RTT.Samples)
		t.rttCount += s.RTT.Samples
	}
	t.elapsed = max(t.elapsed, s.Elapsed)
}

func (t *totals) avgRTT() float64 {
	if t.rttCount == 0 {
		return 0
	}
	return t.rttSum / float64(t.rttCount)
}

func (t *totals) deliveryRatio() float64 {
	if t.received == 0 {
		return 0
	}
	return float64(t.delivered) / float64(t.received)
}

func (t *totals) throughputBps() float64 {
	if t.elapsed <= 0 {
		return 0
	}
	return float64(t.bytes*8) / t.elapsed.Seconds()
}

// summarize splits reports into per-channel totals and an overall total.
func summarize(reports []adapter.Report) (rel, unr, all totals) {
	for _, r := range reports {
		rel.add(r.Reliable)
		unr.add(r.Unreliable)
		all.add(r.Reliable)
		all.add(r.Unreliable)
	}
	return rel, unr, all
}

func ms(v float64) string { return fmt.Sprintf("%.2f ms", v) }

func pct(v float64) string { return fmt.Sprintf("%.1f %%", v*100) }

// statsTable builds the final statistics table of reports.
func statsTable(reports []adapter.Report) [][]string {
	rel, unr, all := summarize(reports)

	// Jitter is reported per channel only.
	var relJ, unrJ metrics.Summary
	var relJN, unrJN float64
	for _, r := range reports {
		relJ.Samples += r.Reliable.Jitter.Samples
		relJN += r.Reliable.Jitter.AvgMs * float64(r.Reliable.Jitter.Samples)
		unrJ.Samples += r.Unreliable.Jitter.Samples
		unrJN += r.Unreliable.Jitter.AvgMs * float64(r.Unreliable.Jitter.Samples)
	}
	if relJ.Samples > 0 {
		relJ.AvgMs = relJN / float64(relJ.Samples)
	}
	if unrJ.Samples > 0 {
		unrJ.AvgMs = unrJN / float64(unrJ.Samples)
	}

	row := func(name string, f func(t *totals) string) []string {
		return []string{name, f(&rel), f(&unr), f(&all)}
	}

	return [][]string{
		{"Metric", "Reliable", "Unreliable", "Overall"},
		row("Packets received", func(t *totals) string { return fmt.Sprint(t.received) }),
		row("Packets delivered", func(t *totals) string { return fmt.Sprint(t.delivered) }),
		row("Packets sent", func(t *totals) string { return fmt.Sprint(t.sent) }),
		row("Delivery ratio", func(t *totals) string { return pct(t.deliveryRatio()) }),
		row("Out of order", func(t *totals) string { return fmt.Sprint(t.ooo) }),
		row("Bytes received", func(t *totals) string { return util.FormatBytes(float64(t.bytes)) }),
		row("Throughput", func(t *totals) string { return fmt.Sprintf("%.2f kbps", t.throughputBps()/1000) }),
		row("Avg latency", func(t *totals) string { return ms(t.avgRTT()) }),
		row("Min latency", func(t *totals) string { return ms(t.rttMin) }),
		row("Max latency", func(t *totals) string { return ms(t.rttMax) }),
		{"Avg jitter", ms(relJ.AvgMs), ms(unrJ.AvgMs), "-"},
	}
}

// printReports renders the final statistics of reports as a table.
func printReports(title string, reports []adapter.Report) {
	if len(reports) == 0 {
		util.LogInfo("%s: no sessions", title)
		return
	}

	pterm.DefaultSection.Println(fmt.Sprintf("%s (%d sessions)", title, len(reports)))
	if err := pterm.DefaultTable.WithHasHeader().WithData(statsTable(reports)).Render(); err != nil {
		util.LogError("render statistics: %v", err)
	}
}
