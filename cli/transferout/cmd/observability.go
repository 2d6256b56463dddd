package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	serviceName    = "transferout"
	serviceVersion = "0.1.0"
	// prefix of the metric names exported to Prometheus
	promNamespace = "to"
)

/*
observability implements the Observability interfaces of the transfer and
rpc packages. Without exporter metrics go to noop provider.
*/
type observability struct {
	log      *slog.Logger
	mp       metric.MeterProvider
	registry *prometheus.Registry
	shutdown func(context.Context) error
}

func newObservability(exporter string, log *slog.Logger) (*observability, error) {
	o := &observability{log: log, mp: noop.NewMeterProvider()}
	if exporter == "" {
		return o, nil
	}

	reader, err := o.newReader(exporter)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("creating OTEL resource: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	o.mp = mp
	o.shutdown = mp.Shutdown
	return o, nil
}

func (o *observability) newReader(exporter string) (sdkmetric.Reader, error) {
	switch exporter {
	case "stdout":
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "prometheus":
		o.registry = prometheus.NewRegistry()
		reader, err := promexp.New(promexp.WithRegisterer(o.registry), promexp.WithNamespace(promNamespace))
		if err != nil {
			return nil, fmt.Errorf("creating Prometheus exporter: %w", err)
		}
		return reader, nil
	}
	return nil, fmt.Errorf("unsupported exporter %q", exporter)
}

// Shutdown flushes the exporter, no-op when metrics are disabled.
func (o *observability) Shutdown() error {
	if o.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down meter provider: %w", err)
	}
	return nil
}

func (o *observability) Logger() *slog.Logger { return o.log }

func (o *observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

// MetricsHandler returns nil unless Prometheus exporter is used.
func (o *observability) MetricsHandler() http.Handler {
	if o.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{MaxRequestsInFlight: 1})
}

func (o *observability) PrometheusRegisterer() prometheus.Registerer {
	if o.registry == nil {
		return nil
	}
	return o.registry
}
