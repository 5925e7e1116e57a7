package server

import (
	"context"
	"time"

	"github.com/tsarna/eventer/pkg/eventer/o11y"
)

// ConnectionMetrics holds the transport instruments. A nil
// *ConnectionMetrics records nothing.
type ConnectionMetrics struct {
	activeConnections  o11y.Gauge
	totalConnections   o11y.Counter
	connectionDuration o11y.Histogram
	rejected           o11y.Counter

	framesReceived o11y.Counter
	frameErrors    o11y.Counter
	frameSize      o11y.Histogram
	writeErrors    o11y.Counter
}

// NewConnectionMetrics returns nil when provider is nil.
func NewConnectionMetrics(provider o11y.MetricsProvider) *ConnectionMetrics {
	if provider == nil {
		return nil
	}

	return &ConnectionMetrics{
		activeConnections:  provider.Gauge("connections_active"),
		totalConnections:   provider.Counter("connections_total"),
		connectionDuration: provider.Histogram("connection_duration_seconds"),
		rejected:           provider.Counter("connections_rejected_total"),

		framesReceived: provider.Counter("frames_received_total"),
		frameErrors:    provider.Counter("frame_errors_total"),
		frameSize:      provider.Histogram("frame_size_bytes"),
		writeErrors:    provider.Counter("write_errors_total"),
	}
}

func (m *ConnectionMetrics) RecordConnectionStart(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1, o11y.Label{Key: "transport", Value: transport})
}

func (m *ConnectionMetrics) RecordConnectionActive(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(count))
}

func (m *ConnectionMetrics) RecordConnectionEnd(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordRejected counts connections refused during shutdown.
func (m *ConnectionMetrics) RecordRejected(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, o11y.Label{Key: "transport", Value: transport})
}

func (m *ConnectionMetrics) RecordFrameReceived(ctx context.Context, sizeBytes int, kind string) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1, o11y.Label{Key: "kind", Value: kind})
	m.frameSize.Record(ctx, float64(sizeBytes))
}

// RecordFrameError counts dropped or fatal inbound frames by reason.
func (m *ConnectionMetrics) RecordFrameError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.frameErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

func (m *ConnectionMetrics) RecordWriteError(ctx context.Context, timeout bool) {
	if m == nil {
		return
	}
	errorType := "io"
	if timeout {
		errorType = "timeout"
	}
	m.writeErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}
