package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/gamenet/internal/adapter"
	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/protocol"
)

func report(id uint32, at time.Time, delivered uint64) adapter.Report {
	return adapter.Report{
		ID: id,
		Reliable: metrics.Stats{
			Channel:          protocol.Reliable,
			PacketsReceived:  delivered + 2,
			PacketsDelivered: delivered,
			PacketsSent:      delivered,
			BytesReceived:    delivered * 40,
			RTT:              metrics.Summary{AvgMs: 31.5, MinMs: 30, MaxMs: 40, Samples: int(delivered)},
			Jitter:           metrics.Summary{AvgMs: 1.25, MinMs: 0, MaxMs: 10, Samples: int(delivered) - 1},
			ThroughputBps:    3200,
			DeliveryRatio:    float64(delivered) / float64(delivered+2),
			Elapsed:          2 * time.Second,
		},
		Unreliable: metrics.Stats{
			Channel:          protocol.Unreliable,
			PacketsReceived:  5,
			PacketsDelivered: 5,
			OutOfOrder:       1,
			DeliveryRatio:    1,
		},
		At: at,
	}
}

func TestSaveAndHistory(t *testing.T) {
	db, err := OpenSQLite3(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite3: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	if err := db.SaveReport(ctx, report(0xaa, base, 10)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if err := db.SaveReport(ctx, report(0xbb, base.Add(time.Second), 20)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	entries, err := db.History(ctx, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries: got %d, want 4", len(entries))
	}

	newest := entries[0]
	if newest.SessionID != 0xbb || !newest.ClosedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("newest entry: %+v", newest)
	}

	var rel *Entry
	for i := range entries[:2] {
		if entries[i].Stats.Channel == protocol.Reliable {
			rel = &entries[i]
		}
	}
	if rel == nil {
		t.Fatal("no reliable entry for the newest session")
	}
	want := report(0xbb, base, 20).Reliable
	got := rel.Stats
	if got.PacketsDelivered != want.PacketsDelivered || got.PacketsReceived != want.PacketsReceived ||
		got.RTT != want.RTT || got.Jitter != want.Jitter || got.Elapsed != want.Elapsed ||
		got.DeliveryRatio != want.DeliveryRatio {
		t.Fatalf("reliable stats:\n got %+v\nwant %+v", got, want)
	}

	limited, err := db.History(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited history: %d entries, err %v", len(limited), err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stats.db")
	db, err := OpenSQLite3(path)
	if err != nil {
		t.Fatalf("OpenSQLite3: %v", err)
	}
	if err := db.SaveReport(context.Background(), report(1, time.Now(), 1)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	db.Close()

	// Reopening keeps existing rows.
	db, err = OpenSQLite3(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	entries, err := db.History(context.Background(), 10)
	if err != nil || len(entries) != 2 {
		t.Fatalf("after reopen: %d entries, err %v", len(entries), err)
	}
}
