// Package metrics exposes Prometheus collectors for ETL runs and the upsert loader.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics groups the collectors updated by the loader and the orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsUpserted prometheus.Counter
	RecordsSkipped  prometheus.Counter
	BatchesFlushed  prometheus.Counter
	FlushDuration   prometheus.Histogram
	BatchSize       prometheus.Histogram
	RunsFinished    *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_records_upserted_total",
			Help: "Total number of customer records written by the loader",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_records_skipped_total",
			Help: "Total number of records skipped because they were at or below the load checkpoint",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_batches_flushed_total",
			Help: "Total number of committed upsert batches",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "etl_flush_duration_seconds",
			Help:    "Time taken to upsert and commit one batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "etl_batch_size",
			Help:    "Number of records in each flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1 to 8192
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_runs_finished_total",
			Help: "Total number of runs that reached a terminal status",
		}, []string{"status"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_phase_duration_seconds",
			Help:    "Wall time spent in each phase step",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"phase"}),
	}

	reg.MustRegister(
		m.RecordsUpserted,
		m.RecordsSkipped,
		m.BatchesFlushed,
		m.FlushDuration,
		m.BatchSize,
		m.RunsFinished,
		m.PhaseDuration,
	)
	return m
}

// ObserveFlush records one committed batch.
func (m *Metrics) ObserveFlush(size int, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchesFlushed.Inc()
	m.RecordsUpserted.Add(float64(size))
	m.BatchSize.Observe(float64(size))
	m.FlushDuration.Observe(d.Seconds())
}

// ObserveSkip records records dropped by the resume cursor.
func (m *Metrics) ObserveSkip(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsSkipped.Add(float64(n))
}

// ObservePhase records the time spent in a phase step.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveRun records a run reaching a terminal status.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(status).Inc()
}

// Serve exposes /metrics for gatherer on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Starting metrics server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown metrics server")
	}
	return nil
}
