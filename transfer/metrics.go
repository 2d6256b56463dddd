package transfer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/alphabill-org/transferout/observability"
	"github.com/alphabill-org/transferout/types"
)

// transfer outcome, used as "status" attribute of the metrics
const (
	statusCompleted = "completed"
	statusPartial   = "partial"
	statusFailed    = "failed"
	statusRejected  = "rejected"
	statusPending   = "pending"
)

type metrics struct {
	transfers     metric.Int64Counter
	duration      metric.Float64Histogram
	providerCalls metric.Int64Counter
	recoveries    metric.Int64Counter
}

func (c *Coordinator) initMetrics(obs Observability) (err error) {
	m := obs.Meter("transfer")

	if _, err = m.Int64ObservableUpDownCounter(
		"transfer.in_progress",
		metric.WithDescription(`Number of transfers (or recoveries) which are accepted but not finished, zero or one.`),
		metric.WithUnit("{transaction}"),
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			if c.Busy() {
				io.Observe(1)
			} else {
				io.Observe(0)
			}
			return nil
		}),
	); err != nil {
		return fmt.Errorf("creating in progress counter: %w", err)
	}

	if c.m.transfers, err = m.Int64Counter(
		"transfer.count",
		metric.WithDescription("Number of transfer requests by reason and outcome."),
		metric.WithUnit("{transaction}"),
	); err != nil {
		return fmt.Errorf("creating transfer counter: %w", err)
	}

	if c.m.duration, err = m.Float64Histogram(
		"transfer.duration",
		metric.WithDescription("How long it took to run the provider chain of the transfer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	); err != nil {
		return fmt.Errorf("creating duration histogram: %w", err)
	}

	if c.m.providerCalls, err = m.Int64Counter(
		"provider.calls",
		metric.WithDescription("Number of provider Transfer and Recover calls by provider and outcome."),
		metric.WithUnit("{call}"),
	); err != nil {
		return fmt.Errorf("creating provider call counter: %w", err)
	}

	if c.m.recoveries, err = m.Int64Counter(
		"recovery.count",
		metric.WithDescription("Number of transactions processed by recovery, by outcome."),
		metric.WithUnit("{transaction}"),
	); err != nil {
		return fmt.Errorf("creating recovery counter: %w", err)
	}

	return nil
}

func (m *metrics) transferDone(ctx context.Context, reason types.TransferOutReason, status string) {
	m.transfers.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(observability.Reason(reason), observability.Status(status))))
}

func (m *metrics) providerCalled(ctx context.Context, id types.ProviderID, err error) {
	m.providerCalls.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(observability.Provider(id), observability.ErrStatus(err))))
}

func (m *metrics) recoveryDone(ctx context.Context, status string) {
	m.recoveries.Add(ctx, 1, metric.WithAttributes(observability.Status(status)))
}
