package message

import (
	"context"
	"time"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
)

// Metrics holds the dispatcher's instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	framesSent      o11y.Counter
	suppressed      o11y.Counter
	backendCalls    o11y.Counter
	backendErrors   o11y.Counter
	backendDuration o11y.Histogram
	auths           o11y.Counter
	shutdowns       o11y.Counter
	probeResults    o11y.Counter
}

// NewMetrics returns nil when provider is nil.
func NewMetrics(provider o11y.MetricsProvider) *Metrics {
	if provider == nil {
		return nil
	}

	return &Metrics{
		framesSent:      provider.Counter("frames_sent_total"),
		suppressed:      provider.Counter("pushes_suppressed_total"),
		backendCalls:    provider.Counter("backend_calls_total"),
		backendErrors:   provider.Counter("backend_errors_total"),
		backendDuration: provider.Histogram("backend_call_duration_seconds"),
		auths:           provider.Counter("auth_attempts_total"),
		shutdowns:       provider.Counter("shutdown_requests_total"),
		probeResults:    provider.Counter("probe_validations_total"),
	}
}

func (m *Metrics) RecordSent(ctx context.Context, kind kinds.Kind) {
	if m == nil {
		return
	}
	m.framesSent.Add(ctx, 1, o11y.Label{Key: "kind", Value: kind.String()})
}

// RecordSuppressed counts a push skipped because the snapshot was unchanged.
func (m *Metrics) RecordSuppressed(ctx context.Context, kind kinds.Kind) {
	if m == nil {
		return
	}
	m.suppressed.Add(ctx, 1, o11y.Label{Key: "kind", Value: kind.String()})
}

func (m *Metrics) RecordBackendCall(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	label := o11y.Label{Key: "operation", Value: operation}
	m.backendCalls.Add(ctx, 1, label)
	m.backendDuration.Record(ctx, duration.Seconds(), label)
	if err != nil {
		m.backendErrors.Add(ctx, 1, label)
	}
}

func (m *Metrics) RecordAuth(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.auths.Add(ctx, 1, o11y.Label{Key: "result", Value: result})
}

// RecordShutdown counts handshake steps: "challenge", "mismatch" or
// "accepted".
func (m *Metrics) RecordShutdown(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.shutdowns.Add(ctx, 1, o11y.Label{Key: "result", Value: result})
}

func (m *Metrics) RecordProbeResult(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.probeResults.Add(ctx, 1, o11y.Label{Key: "result", Value: result})
}
