// Package app contains the top-level orchestration for host and client roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/gamenet/internal/adapter"
	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/observability"
	"github.com/1ureka/gamenet/internal/signaling"
	"github.com/1ureka/gamenet/internal/store"
	"github.com/1ureka/gamenet/internal/util"
)

// maxPayloadLog is how much of a payload the receiver log shows.
const maxPayloadLog = 70

// receiverLog is the host's application handler: it logs every delivery
// with its sequence number, channel, latency and buffering delay.
type receiverLog struct {
	id  uint32
	now func() time.Time
}

func (l receiverLog) OnDeliver(rec adapter.Record, reliable bool) {
	flag := ""
	if rec.OutOfOrder {
		flag = " [OUT-OF-ORDER]"
	}
	buffered := l.now().Sub(rec.Arrival)

	util.LogInfo("[%08x] [DELIVER] SeqNo=%5d | Channel=%s | Timestamp=%d | RTT=%7.2fms | BuffDelay=%6.2fms%s",
		l.id, rec.Seq, rec.Channel.Short(), rec.Timestamp, rec.RTTMs,
		float64(buffered.Microseconds())/1000, flag)
	util.LogDebug("[%08x] [APP-DATA] SeqNo=%5d | Channel=%s | Data: %s",
		l.id, rec.Seq, rec.Channel.Short(), truncate(string(rec.Payload), maxPayloadLog))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// RunHost orchestrates the full host lifecycle:
//  1. Start the metrics endpoint and the statistics store
//  2. Start the WS signaling server with a PIN
//  3. Accept clients until ctx is cancelled, one Session per client
//  4. Close all sessions and print the final statistics
func RunHost(ctx context.Context, cfg *config.Config) error {
	// ── 1. Observability & storage ─────────────────────────────────────
	observability.RegisterMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := observability.Serve(ctx, cfg.MetricsAddr); err != nil {
				util.LogError("metrics endpoint: %v", err)
			}
		}()
		util.LogInfo("serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	var db *store.DB
	if cfg.StatsDB != "" {
		var err error
		if db, err = store.OpenSQLite3(cfg.StatsDB); err != nil {
			return fmt.Errorf("open stats database: %w", err)
		}
		defer db.Close()
	}

	// ── 2. Signaling server ────────────────────────────────────────────
	pin := cfg.Signal.PIN
	if pin == "" {
		pin = signaling.GeneratePIN(4)
	}
	srv := signaling.NewServer(pin)
	addr, err := srv.Start(cfg.Signal.Listen)
	if err != nil {
		return err
	}
	defer srv.Close()

	printServerInfo(addr.Port, pin)

	// ── 3. Accept loop ─────────────────────────────────────────────────
	reg := adapter.NewRegistry()
	var (
		finalsMu sync.Mutex
		finals   []adapter.Report
		hooks    sync.WaitGroup
	)
	onClose := func(r adapter.Report) {
		defer hooks.Done()

		finalsMu.Lock()
		finals = append(finals, r)
		finalsMu.Unlock()

		util.LogInfo("[%08x] final: REL %d/%d delivered, avg RTT %.2fms | UNR %d delivered, %d out of order, avg RTT %.2fms",
			r.ID, r.Reliable.PacketsDelivered, r.Reliable.PacketsReceived, r.Reliable.RTT.AvgMs,
			r.Unreliable.PacketsDelivered, r.Unreliable.OutOfOrder, r.Unreliable.RTT.AvgMs)

		if db != nil {
			// The run context may already be cancelled during shutdown.
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.SaveReport(saveCtx, r); err != nil {
				util.LogError("[%08x] failed to store statistics: %v", r.ID, err)
			}
		}
	}

	util.StartStatsReporter(ctx, cfg.Report.Interval.Duration, func() string {
		return liveSummary(reg.Snapshots())
	})

	for {
		tr, err := srv.Establish(ctx, cfg.Transport)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, signaling.ErrServerClosed) {
				break
			}
			util.LogWarning("failed to establish connection: %v", err)
			continue
		}

		id := util.NewSessionID("host", tr.ConnectionState().String())
		hooks.Add(1)
		s := adapter.NewSession(ctx, tr, receiverLog{id: id, now: time.Now},
			adapter.WithID(id),
			adapter.WithAutoAck(cfg.Session.AutoAck),
			adapter.WithCloseHook(onClose),
		)
		reg.Register(s)
		util.LogSuccess("[%08x] P2P session established (%d active)", id, reg.Len())
	}

	// ── 4. Shutdown ────────────────────────────────────────────────────
	util.LogInfo("stopping host, closing %d sessions", reg.Len())
	reg.CloseAll()
	hooks.Wait()

	finalsMu.Lock()
	defer finalsMu.Unlock()
	printReports("Host statistics", finals)
	return nil
}

// liveSummary formats the current average latency of live sessions for the
// periodic reporter.
func liveSummary(reports []adapter.Report) string {
	if len(reports) == 0 {
		return ""
	}
	rel, unr, _ := summarize(reports)
	return fmt.Sprintf("Live: %d | REL %.1fms | UNR %.1fms", len(reports), rel.avgRTT(), unr.avgRTT())
}

func printServerInfo(port int, pin string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Port : %d\n", port)
	fmt.Fprintf(&b, "PIN  : %s\n\n", pin)
	b.WriteString("Clients connect with -url ws://<host>:<port>/ws -pin <PIN>.\n")
	b.WriteString("Forward the port (e.g. VS Code Port Forwarding) for remote clients.")

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(b.String())
	util.LogInfo("waiting for clients...")
}
