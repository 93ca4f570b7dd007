// Package store keeps a history of final session statistics in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/1ureka/gamenet/internal/adapter"
	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/protocol"
)

const initSQL = `
CREATE TABLE IF NOT EXISTS session_stats (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id        INTEGER NOT NULL,
	channel           TEXT    NOT NULL,
	closed_at         INTEGER NOT NULL,
	packets_received  INTEGER NOT NULL,
	packets_delivered INTEGER NOT NULL,
	packets_sent      INTEGER NOT NULL,
	bytes_received    INTEGER NOT NULL,
	out_of_order      INTEGER NOT NULL,
	rtt_avg           REAL    NOT NULL,
	rtt_min           REAL    NOT NULL,
	rtt_max           REAL    NOT NULL,
	rtt_samples       INTEGER NOT NULL,
	jitter_avg        REAL    NOT NULL,
	jitter_min        REAL    NOT NULL,
	jitter_max        REAL    NOT NULL,
	jitter_samples    INTEGER NOT NULL,
	throughput_bps    REAL    NOT NULL,
	delivery_ratio    REAL    NOT NULL,
	elapsed_ms        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS session_stats_closed ON session_stats (closed_at);`

// DB is a statistics history database.
type DB struct {
	*sql.DB
}

// Entry is one stored channel snapshot.
type Entry struct {
	SessionID uint32
	ClosedAt  time.Time
	Stats     metrics.Stats
}

// OpenSQLite3 opens the database at path, creating its directory and schema
// when missing. ":memory:" opens a private in-memory database.
func OpenSQLite3(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{DB: db}, nil
}

// SaveReport stores both channels of a final session report.
func (db *DB) SaveReport(ctx context.Context, r adapter.Report) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range []metrics.Stats{r.Reliable, r.Unreliable} {
		_, err := tx.ExecContext(ctx, `INSERT INTO session_stats (
			session_id, channel, closed_at,
			packets_received, packets_delivered, packets_sent, bytes_received, out_of_order,
			rtt_avg, rtt_min, rtt_max, rtt_samples,
			jitter_avg, jitter_min, jitter_max, jitter_samples,
			throughput_bps, delivery_ratio, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			int64(r.ID), s.Channel.String(), r.At.UnixMilli(),
			int64(s.PacketsReceived), int64(s.PacketsDelivered), int64(s.PacketsSent),
			int64(s.BytesReceived), int64(s.OutOfOrder),
			s.RTT.AvgMs, s.RTT.MinMs, s.RTT.MaxMs, s.RTT.Samples,
			s.Jitter.AvgMs, s.Jitter.MinMs, s.Jitter.MaxMs, s.Jitter.Samples,
			s.ThroughputBps, s.DeliveryRatio, s.Elapsed.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert %s stats of session %08x: %w", s.Channel, r.ID, err)
		}
	}

	return tx.Commit()
}

// History returns up to limit entries, newest first.
func (db *DB) History(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, `SELECT
			session_id, channel, closed_at,
			packets_received, packets_delivered, packets_sent, bytes_received, out_of_order,
			rtt_avg, rtt_min, rtt_max, rtt_samples,
			jitter_avg, jitter_min, jitter_max, jitter_samples,
			throughput_bps, delivery_ratio, elapsed_ms
		FROM session_stats ORDER BY closed_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			id        int64
			channel   string
			closedAt  int64
			elapsedMs int64
			s         = &e.Stats
		)
		if err := rows.Scan(
			&id, &channel, &closedAt,
			&s.PacketsReceived, &s.PacketsDelivered, &s.PacketsSent, &s.BytesReceived, &s.OutOfOrder,
			&s.RTT.AvgMs, &s.RTT.MinMs, &s.RTT.MaxMs, &s.RTT.Samples,
			&s.Jitter.AvgMs, &s.Jitter.MinMs, &s.Jitter.MaxMs, &s.Jitter.Samples,
			&s.ThroughputBps, &s.DeliveryRatio, &elapsedMs,
		); err != nil {
			return nil, err
		}

		e.SessionID = uint32(id)
		e.ClosedAt = time.UnixMilli(closedAt)
		s.Channel = protocol.ChannelFromReliable(channel == protocol.Reliable.String())
		s.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
