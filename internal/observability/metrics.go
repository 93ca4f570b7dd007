// Package observability exports session statistics to Prometheus.
package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/gamenet/internal/protocol"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamenet",
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Decoded frames received from the transport.",
		},
		[]string{"channel"},
	)
	framesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamenet",
			Subsystem: "frames",
			Name:      "delivered_total",
			Help:      "Frames delivered to the application handler.",
		},
		[]string{"channel", "order"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamenet",
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames dropped before reaching the reorder engine.",
		},
		[]string{"channel", "reason"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamenet",
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Frames handed to the transport.",
		},
		[]string{"channel", "kind"},
	)
	latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gamenet",
			Subsystem: "session",
			Name:      "latency_milliseconds",
			Help:      "Arrival time minus embedded send timestamp, per delivered frame.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		},
		[]string{"channel"},
	)
	jitter = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gamenet",
			Subsystem: "session",
			Name:      "jitter_milliseconds",
			Help:      "Absolute difference between successive latency samples.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"channel"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamenet",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently open.",
		},
	)
)

// Drop reasons.
const (
	ReasonFormat          = "format"
	ReasonDecode          = "decode"
	ReasonChannelMismatch = "channel_mismatch"
)

// Send kinds.
const (
	KindData = "data"
	KindAck  = "ack"
)

// RegisterMetrics registers all collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesReceived, framesDelivered, framesDropped, framesSent,
			latency, jitter, activeSessions)
	})
}

// RecordReceived counts one decoded frame on ch.
func RecordReceived(ch protocol.Channel) {
	RegisterMetrics()
	framesReceived.WithLabelValues(ch.String()).Inc()
}

// RecordDelivery counts one delivery and observes its latency and, when
// present, its jitter.
func RecordDelivery(ch protocol.Channel, outOfOrder bool, latencyMs, jitterMs float64, hasJitter bool) {
	RegisterMetrics()
	order := "in"
	if outOfOrder {
		order = "out"
	}
	framesDelivered.WithLabelValues(ch.String(), order).Inc()
	latency.WithLabelValues(ch.String()).Observe(latencyMs)
	if hasJitter {
		jitter.WithLabelValues(ch.String()).Observe(jitterMs)
	}
}

// RecordDrop counts one dropped frame with the given reason.
func RecordDrop(ch protocol.Channel, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(ch.String(), reason).Inc()
}

// RecordSent counts one frame of the given kind handed to the transport.
func RecordSent(ch protocol.Channel, kind string) {
	RegisterMetrics()
	framesSent.WithLabelValues(ch.String(), kind).Inc()
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the endpoint.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	RegisterMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
