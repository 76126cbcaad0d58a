// Package observability exposes live metric values to Prometheus.
package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pmc-monitor/internal/logging"
	"pmc-monitor/internal/processing"
	"pmc-monitor/internal/sample"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricsPath = "/metrics"

// Exporter is a processing.Sink publishing the latest value of every metric.
type Exporter struct {
	registry *prometheus.Registry

	values    *prometheus.GaugeVec
	processed prometheus.Counter
	failed    prometheus.Counter
	lastIndex prometheus.Gauge
}

// NewExporter registers its collectors on reg. A nil reg gets a fresh registry.
func NewExporter(reg *prometheus.Registry) (*Exporter, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	values := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pmc_metric_value",
		Help: "Latest evaluated value of a metric.",
	}, []string{"experiment", "metric"})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pmc_samples_processed_total",
		Help: "Samples whose metrics were evaluated.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pmc_samples_failed_total",
		Help: "Samples dropped because a metric failed to evaluate.",
	})
	lastIndex := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pmc_last_sample_index",
		Help: "nsample of the most recent processed sample.",
	})

	for _, c := range []prometheus.Collector{values, processed, failed, lastIndex} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Exporter{
		registry:  reg,
		values:    values,
		processed: processed,
		failed:    failed,
		lastIndex: lastIndex,
	}, nil
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Write implements processing.Sink.
func (e *Exporter) Write(_ context.Context, _ sample.Record, _ sample.FieldMap, values []processing.Value) error {
	for _, v := range values {
		e.values.WithLabelValues(strconv.Itoa(v.Experiment), v.Metric).Set(v.Value)
	}
	if len(values) > 0 {
		e.lastIndex.Set(float64(values[0].Sample))
	}
	e.processed.Inc()
	return nil
}

// RecordFailure implements processing.FailureRecorder.
func (e *Exporter) RecordFailure(error) {
	e.failed.Inc()
}

func (e *Exporter) Close() error {
	return nil
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the registry on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	logger := logging.GetLogger()

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, e.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Serving Prometheus metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Debug("Shutting down metrics server")
		return server.Shutdown(shutdownCtx)
	}
}
