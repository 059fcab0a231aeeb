package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tanq16/mirrordl/internal/utils"
)

// Metrics groups the download counters. A nil *Metrics is valid and records
// nothing, so components can take it unconditionally.
type Metrics struct {
	Registry      *prometheus.Registry
	chunksFetched *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	fetchSeconds  *prometheus.HistogramVec
	bytesWritten  prometheus.Counter
	chunksWritten prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		chunksFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mirrordl",
			Name:      "chunks_fetched_total",
			Help:      "Chunks fetched, by mirror.",
		}, []string{"mirror"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mirrordl",
			Name:      "fetch_errors_total",
			Help:      "Failed chunk fetches, by mirror.",
		}, []string{"mirror"}),
		fetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mirrordl",
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch one chunk, by mirror.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"mirror"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mirrordl",
			Name:      "bytes_written_total",
			Help:      "Bytes flushed to the output file.",
		}),
		chunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mirrordl",
			Name:      "chunks_written_total",
			Help:      "Chunks flushed to the output file.",
		}),
	}
	m.Registry.MustRegister(m.chunksFetched, m.fetchErrors, m.fetchSeconds, m.bytesWritten, m.chunksWritten)
	return m
}

func (m *Metrics) ChunkFetched(mirror string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.chunksFetched.WithLabelValues(mirror).Inc()
	m.fetchSeconds.WithLabelValues(mirror).Observe(elapsed.Seconds())
}

func (m *Metrics) FetchFailed(mirror string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(mirror).Inc()
}

func (m *Metrics) ChunkWritten(n int64) {
	if m == nil {
		return
	}
	m.chunksWritten.Inc()
	m.bytesWritten.Add(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	log := utils.GetLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
