package session

import (
	"context"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
)

// Metrics holds the session registry's instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	activeSessions o11y.Gauge
	registrations  o11y.Counter
	evictions      o11y.Counter
	pushCycles     o11y.Counter
	pushErrors     o11y.Counter
	probes         o11y.Counter
}

// NewMetrics returns nil when provider is nil.
func NewMetrics(provider o11y.MetricsProvider) *Metrics {
	if provider == nil {
		return nil
	}

	return &Metrics{
		activeSessions: provider.Gauge("sessions_active"),
		registrations:  provider.Counter("session_registrations_total"),
		evictions:      provider.Counter("session_evictions_total"),
		pushCycles:     provider.Counter("push_cycles_total"),
		pushErrors:     provider.Counter("push_errors_total"),
		probes:         provider.Counter("liveness_probes_total"),
	}
}

func (m *Metrics) RecordActive(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(ctx, float64(count))
}

// RecordRegistration counts one Register outcome ("ok", "credential" or
// "rejected").
func (m *Metrics) RecordRegistration(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.registrations.Add(ctx, 1, o11y.Label{Key: "result", Value: result})
}

func (m *Metrics) RecordEviction(ctx context.Context) {
	if m == nil {
		return
	}
	m.evictions.Add(ctx, 1)
}

func (m *Metrics) RecordCycle(ctx context.Context) {
	if m == nil {
		return
	}
	m.pushCycles.Add(ctx, 1)
}

func (m *Metrics) RecordPushError(ctx context.Context, kind kinds.Kind) {
	if m == nil {
		return
	}
	m.pushErrors.Add(ctx, 1, o11y.Label{Key: "kind", Value: kind.String()})
}

func (m *Metrics) RecordProbe(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.probes.Add(ctx, 1, o11y.Label{Key: "result", Value: result})
}
