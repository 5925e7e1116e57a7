package o11y

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryProviderCounters(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	c := p.Counter("frames_total")
	c.Add(ctx, 1, Label{Key: "kind", Value: "ping"})
	c.Add(ctx, 2, Label{Key: "kind", Value: "ping"})
	c.Add(ctx, 1, Label{Key: "kind", Value: "auth"})

	assert.Equal(t, int64(3), p.CounterValue("frames_total", Label{Key: "kind", Value: "ping"}))
	assert.Equal(t, int64(1), p.CounterValue("frames_total", Label{Key: "kind", Value: "auth"}))
	assert.Equal(t, int64(4), p.CounterValue("frames_total"))
	assert.Equal(t, int64(0), p.CounterValue("missing"))

	// Same name returns the same instrument
	p.Counter("frames_total").Add(ctx, 1, Label{Key: "kind", Value: "auth"})
	assert.Equal(t, int64(2), p.CounterValue("frames_total", Label{Key: "kind", Value: "auth"}))
}

func TestMemoryProviderLabelOrder(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	p.Counter("x").Add(ctx, 1, Label{Key: "a", Value: "1"}, Label{Key: "b", Value: "2"})
	assert.Equal(t, int64(1), p.CounterValue("x", Label{Key: "b", Value: "2"}, Label{Key: "a", Value: "1"}))
}

func TestMemoryProviderGaugeAndHistogram(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	p.Gauge("sessions").Set(ctx, 3)
	p.Gauge("sessions").Set(ctx, 2)
	assert.Equal(t, 2.0, p.GaugeValue("sessions"))

	p.Histogram("latency").Record(ctx, 0.1)
	p.Histogram("latency").Record(ctx, 0.2)
	assert.Equal(t, 2, p.HistogramCount("latency"))
	assert.Equal(t, 0, p.HistogramCount("missing"))
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx := context.Background()
	got, span := StartSpan(ctx, nil, "op")
	assert.Equal(t, ctx, got)
	assert.NotPanics(t, func() {
		span.SetAttributes(Label{Key: "k", Value: "v"})
		EndSpan(span, errors.New("x"))
	})
}
