package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_tcp_connections_total",
		Help: "TCP ingest connections accepted",
	})
	HandshakeOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_handshake_ok_total",
		Help: "TCP ingest connections that sent a device id",
	})
	FixesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_fixes_received_total",
		Help: "Fixes received per ingest source",
	}, []string{"source"})
	FixesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_fixes_stored_total",
		Help: "Fixes written to the store",
	})
	FixesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_fixes_skipped_total",
		Help: "Fixes skipped by the stationary gate",
	})
	InvalidDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_invalid_fixes_dropped_total",
		Help: "Malformed fixes dropped before processing",
	})
	OutliersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_outliers_dropped_total",
		Help: "Fixes rejected by the outlier filter",
	})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_parse_errors_total",
		Help: "Ingest payloads that could not be decoded",
	}, []string{"source"})
	RedisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_redis_errors_total",
		Help: "Failed reads or writes against the recent-fix cache",
	})
	LivePolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_live_polls_total",
		Help: "Live mode polls executed",
	})
	LivePollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_live_poll_errors_total",
		Help: "Live mode polls that failed",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "track_active_sessions",
		Help: "Open viewer sessions",
	})
	QueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "track_query_latency_seconds",
		Help:    "Fix store query latency",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveQueryLatency(start time.Time) {
	QueryLatency.Observe(time.Since(start).Seconds())
}

// StartMetricsServer serves /metrics and /healthz until ctx is done.
func StartMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
