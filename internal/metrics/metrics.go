// Package metrics exposes pipeline counters and gauges to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tagingest"

// Metrics holds the pipeline collectors.
type Metrics struct {
	fetched       prometheus.Counter
	dropped       prometheus.Counter
	fetchFailures *prometheus.CounterVec
	written       prometheus.Counter
	failedWrites  prometheus.Counter
	queueLength   prometheus.Gauge
	available     prometheus.Gauge
	mqtt          prometheus.Gauge
	writeLatency  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Records parsed from upstream responses and accepted by the queue.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped because the work queue was full.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Upstream fetches that produced no data, by reason.",
		}, []string{"reason"}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_written_total",
			Help:      "Rows written to storage.",
		}),
		failedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_writes_total",
			Help:      "Rows recorded as failed writes.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Items currently buffered in the work queue.",
		}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_available",
			Help:      "1 when the storage connection is available, 0 otherwise.",
		}),
		mqtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the MQTT status channel is connected, 0 otherwise.",
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_latency_seconds",
			Help:      "Time to write one device tablet, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	collectors := []prometheus.Collector{
		m.fetched, m.dropped, m.fetchFailures, m.written,
		m.failedWrites, m.queueLength, m.available, m.mqtt, m.writeLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	m.available.Set(1)
	return m, nil
}

// RecordsFetched counts records accepted by the queue.
func (m *Metrics) RecordsFetched(n int) {
	if m == nil {
		return
	}
	m.fetched.Add(float64(n))
}

// RecordsDropped counts records rejected by a full queue.
func (m *Metrics) RecordsDropped(n int) {
	if m == nil {
		return
	}
	m.dropped.Add(float64(n))
}

// FetchFailed counts a failed upstream fetch. reason is a short label such
// as "status", "transport" or "decode".
func (m *Metrics) FetchFailed(reason string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(reason).Inc()
}

// PointsWritten counts rows written to storage.
func (m *Metrics) PointsWritten(n int) {
	if m == nil {
		return
	}
	m.written.Add(float64(n))
}

// WriteFailed counts rows recorded as failed writes.
func (m *Metrics) WriteFailed(n int) {
	if m == nil {
		return
	}
	m.failedWrites.Add(float64(n))
}

// ObserveWrite records the duration of one tablet write.
func (m *Metrics) ObserveWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.writeLatency.Observe(d.Seconds())
}

// SetQueueLength reports the current queue depth.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// SetMQTTConnected reports the MQTT status channel link state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.mqtt.Set(1)
	} else {
		m.mqtt.Set(0)
	}
}

// SetStorageAvailable reports storage availability.
func (m *Metrics) SetStorageAvailable(available bool) {
	if m == nil {
		return
	}
	if available {
		m.available.Set(1)
	} else {
		m.available.Set(0)
	}
}

// Handler returns the exposition handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr at path until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
