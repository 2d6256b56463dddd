/*
Package observability provides Observability implementations for tests:
logs go to the test log and metrics are either discarded or collected into
private Prometheus registry.
*/
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	testlogr "github.com/alphabill-org/transferout/internal/testutils/logger"
)

type Observability struct {
	log *slog.Logger
	mp  metric.MeterProvider
	reg *prometheus.Registry
}

// Default returns test logger and no-op metrics.
func Default(t testing.TB) *Observability {
	return &Observability{log: testlogr.New(t), mp: noop.NewMeterProvider()}
}

/*
WithPrometheus exports metrics to registry private to the test, use Gather or
MetricsHandler to inspect them. Scope and target info are not exported so
the series only carry the labels set by the code.
*/
func WithPrometheus(t testing.TB) *Observability {
	reg := prometheus.NewRegistry()
	exp, err := promexp.New(promexp.WithRegisterer(reg), promexp.WithoutScopeInfo(), promexp.WithoutTargetInfo())
	if err != nil {
		t.Fatalf("creating Prometheus exporter: %v", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	t.Cleanup(func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			t.Logf("shutting down meter provider: %v", err)
		}
	})
	return &Observability{log: testlogr.New(t), mp: mp, reg: reg}
}

func (o *Observability) Logger() *slog.Logger { return o.log }

func (o *Observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

func (o *Observability) MetricsHandler() http.Handler {
	if o.reg == nil {
		return nil
	}
	return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{})
}

func (o *Observability) PrometheusRegisterer() prometheus.Registerer {
	if o.reg == nil {
		return nil
	}
	return o.reg
}

/*
Gather returns current value of every series keyed by metric name and
labels, ie "transfer_count_total;reason=CashOut;status=completed". For
histograms the value is the number of observations. Returns nil when
Prometheus is not enabled.
*/
func (o *Observability) Gather(t testing.TB) map[string]float64 {
	t.Helper()
	if o.reg == nil {
		return nil
	}
	families, err := o.reg.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	res := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			parts := []string{mf.GetName()}
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := strings.Join(append(parts, labels...), ";")

			switch {
			case m.GetCounter() != nil:
				res[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				res[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				res[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return res
}
