package auth

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry counters for the auth subsystem. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	attempts  metric.Int64Counter
	successes metric.Int64Counter
	failures  metric.Int64Counter
	restores  metric.Int64Counter
}

// NewMetrics creates auth counters on the given meter. Passing a nil
// meter uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter("cardauth")
	}

	m := &Metrics{}
	var err error

	if m.attempts, err = meter.Int64Counter("cardauth_login_attempts_total",
		metric.WithDescription("Login attempts that reached the verifier")); err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}
	if m.successes, err = meter.Int64Counter("cardauth_login_successes_total",
		metric.WithDescription("Logins that produced an entitlement")); err != nil {
		return nil, fmt.Errorf("failed to create successes counter: %w", err)
	}
	if m.failures, err = meter.Int64Counter("cardauth_login_failures_total",
		metric.WithDescription("Failed login attempts by reason")); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	if m.restores, err = meter.Int64Counter("cardauth_session_restores_total",
		metric.WithDescription("Sessions restored from the entitlement cache")); err != nil {
		return nil, fmt.Errorf("failed to create restores counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) attempted(ctx context.Context) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1)
}

func (m *Metrics) succeeded(ctx context.Context) {
	if m == nil {
		return
	}
	m.successes.Add(ctx, 1)
}

func (m *Metrics) failed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) restored(ctx context.Context) {
	if m == nil {
		return
	}
	m.restores.Add(ctx, 1)
}
