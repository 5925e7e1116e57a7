package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
	"github.com/tsarna/eventer/pkg/eventer/session/sessiontest"
)

func TestProberRunOnce(t *testing.T) {
	f := newFixture(t, PushSubscribed, time.Hour)
	c1 := sessiontest.NewConn("c1")
	c2 := sessiontest.NewConn("c2")

	s1, err := f.registry.Register(context.Background(), f.token(t, "soap-1"), c1)
	require.NoError(t, err)
	s2, err := f.registry.Register(context.Background(), f.token(t, "soap-2"), c2)
	require.NoError(t, err)

	p, err := NewProber(f.registry, DefaultProbeSchedule, zap.NewNop())
	require.NoError(t, err)
	p.RunOnce(context.Background())

	assert.True(t, s1.Probing())
	assert.True(t, s2.Probing())
	assert.Len(t, c1.SentOf(kinds.Ping), 1)
	assert.Len(t, c2.SentOf(kinds.Ping), 1)

	for _, call := range f.poller.Calls() {
		assert.Equal(t, kinds.Ping, call.Kind)
		assert.True(t, call.Force)
	}
	assert.Equal(t, int64(2), f.metrics.CounterValue("liveness_probes_total", o11y.Label{Key: "result", Value: "sent"}))
}

func TestProberCountsSendFailures(t *testing.T) {
	f := newFixture(t, PushSubscribed, time.Hour)
	conn := sessiontest.NewConn("c1")
	_, err := f.registry.Register(context.Background(), f.token(t, "soap-1"), conn)
	require.NoError(t, err)

	conn.FailSends(errors.New("broken pipe"))

	p, err := NewProber(f.registry, "@every 1h", nil)
	require.NoError(t, err)
	p.RunOnce(context.Background())

	assert.Equal(t, int64(1), f.metrics.CounterValue("liveness_probes_total", o11y.Label{Key: "result", Value: "send_failed"}))
}

func TestProberStalledSessionDoesNotDelayOthers(t *testing.T) {
	f := newFixture(t, PushSubscribed, time.Hour)
	stalled := sessiontest.NewConn("stalled")
	healthy := sessiontest.NewConn("healthy")

	_, err := f.registry.Register(context.Background(), f.token(t, "soap-1"), stalled)
	require.NoError(t, err)
	_, err = f.registry.Register(context.Background(), f.token(t, "soap-2"), healthy)
	require.NoError(t, err)

	release := stalled.Stall()
	defer release()

	p, err := NewProber(f.registry, DefaultProbeSchedule, nil)
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		p.RunOnce(context.Background())
		close(finished)
	}()

	require.Eventually(t, func() bool {
		return len(healthy.SentOf(kinds.Ping)) == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case <-finished:
		t.Fatal("RunOnce returned while a ping was still stalled")
	default:
	}

	release()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("RunOnce did not return after the stalled ping was released")
	}
	assert.Len(t, stalled.SentOf(kinds.Ping), 1)
}

func TestProberSchedule(t *testing.T) {
	f := newFixture(t, PushSubscribed, time.Hour)
	conn := sessiontest.NewConn("c1")
	_, err := f.registry.Register(context.Background(), f.token(t, "soap-1"), conn)
	require.NoError(t, err)

	_, err = NewProber(f.registry, "not a schedule", nil)
	assert.Error(t, err)
	assert.Error(t, ValidateSchedule("not a schedule"))
	assert.NoError(t, ValidateSchedule("*/30 * * * * *"))

	p, err := NewProber(f.registry, "@every 1s", zap.NewNop())
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(conn.SentOf(kinds.Ping)) > 0
	}, 3*time.Second, 20*time.Millisecond)
}
