package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/eventer/pkg/eventer/backend"
	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
	"github.com/tsarna/eventer/pkg/eventer/session/sessiontest"
)

func TestListChangeSuppression(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, conn, s := f.login(t, "c1", "soap-1")
	ctx := context.Background()

	f.backend.SetList("soap-1", `[{"id":1}]`)

	require.NoError(t, f.d.Poll(ctx, s, kinds.BaseEventsList, false))
	assert.Equal(t, []sessiontest.Sent{{Kind: kinds.BaseEventsList, Text: `[{"id":1}]`}}, conn.Sent())
	assert.Equal(t, `[{"id":1}]`, s.LastSent(kinds.BaseEventsList))

	// Unchanged: nothing sent, cache unchanged
	require.NoError(t, f.d.Poll(ctx, s, kinds.BaseEventsList, false))
	assert.Len(t, conn.Sent(), 1)
	assert.Equal(t, `[{"id":1}]`, s.LastSent(kinds.BaseEventsList))
	assert.Equal(t, int64(1), f.metrics.CounterValue("pushes_suppressed_total"))

	// Changed: exactly one frame, cache updated
	f.backend.SetList("soap-1", `[{"id":1},{"id":2}]`)
	require.NoError(t, f.d.Poll(ctx, s, kinds.BaseEventsList, false))
	assert.Len(t, conn.Sent(), 2)
	assert.Equal(t, `[{"id":1},{"id":2}]`, s.LastSent(kinds.BaseEventsList))

	// Forced: sent again even though unchanged
	require.NoError(t, f.d.Poll(ctx, s, kinds.BaseEventsList, true))
	assert.Len(t, conn.Sent(), 3)
}

func TestTableQueryParameters(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, conn, s := f.login(t, "c1", "soap-1")
	f.backend.SetTable("", "rows")

	require.NoError(t, f.d.Poll(context.Background(), s, kinds.BaseEventsTable, false))
	assert.Equal(t, []sessiontest.Sent{{Kind: kinds.BaseEventsTable, Text: "rows"}}, conn.Sent())

	calls := f.backend.Queries()
	require.Len(t, calls, 1)
	assert.Equal(t, backend.StoredQueryCall{
		Credential: "soap-1",
		Query:      "GET_NOTIFY_MESSAGES",
		Params:     map[string]string{"DAYS": "1"},
	}, calls[0])
}

func TestTableErrorOnlyWhenForced(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, conn, s := f.login(t, "c1", "soap-1")
	ctx := context.Background()

	f.backend.SetTable("", "rows")
	require.NoError(t, f.d.Poll(ctx, s, kinds.BaseEventsTable, false))
	conn.Reset()

	f.backend.FailTable(errors.New("db offline"))

	err := f.d.Poll(ctx, s, kinds.BaseEventsTable, false)
	assert.ErrorIs(t, err, backend.ErrBackend)
	assert.Empty(t, conn.Sent())
	assert.Equal(t, "rows", s.LastSent(kinds.BaseEventsTable))

	err = f.d.Poll(ctx, s, kinds.BaseEventsTable, true)
	assert.ErrorIs(t, err, backend.ErrBackend)
	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, kinds.Error, sent[0].Kind)
	assert.Contains(t, sent[0].Text, "db offline")
	assert.Equal(t, "rows", s.LastSent(kinds.BaseEventsTable))
}

func TestListErrorAlwaysReported(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, conn, s := f.login(t, "c1", "soap-1")
	ctx := context.Background()

	f.backend.SetList("", "list")
	require.NoError(t, f.d.Poll(ctx, s, kinds.BaseEventsList, false))
	conn.Reset()

	f.backend.FailList(errors.New("service unavailable"))

	err := f.d.Poll(ctx, s, kinds.BaseEventsList, false)
	assert.ErrorIs(t, err, backend.ErrBackend)
	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, kinds.Error, sent[0].Kind)
	assert.Contains(t, sent[0].Text, "service unavailable")
	assert.Equal(t, "list", s.LastSent(kinds.BaseEventsList))

	// Recovery with the same value as before is suppressed
	f.backend.FailList(nil)
	require.NoError(t, f.d.Poll(ctx, s, kinds.BaseEventsList, false))
	assert.Len(t, conn.Sent(), 1)
}

func TestFailedWriteLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, conn, s := f.login(t, "c1", "soap-1")

	f.backend.SetList("", "new")
	conn.FailSends(errors.New("broken pipe"))

	err := f.d.Poll(context.Background(), s, kinds.BaseEventsList, false)
	assert.Error(t, err)
	assert.Equal(t, "", s.LastSent(kinds.BaseEventsList))
}

func TestBackendCallsAreMeasured(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, _, s := f.login(t, "c1", "soap-1")

	require.NoError(t, f.d.Poll(context.Background(), s, kinds.BaseEventsList, true))
	assert.Equal(t, int64(1), f.metrics.CounterValue("backend_calls_total", o11y.Label{Key: "operation", Value: "notify_messages"}))
	assert.Equal(t, 1, f.metrics.HistogramCount("backend_call_duration_seconds"))
}

// With unchanged backend state, an autosync subscription produces one
// push in the first cycle and nothing afterwards.
func TestAutosyncPushesOnlyChanges(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	client, conn, _ := f.login(t, "c1", "soap-1")
	f.backend.SetList("", "[7]")

	require.NoError(t, f.d.ForInbound("[11]", kinds.Autosync, client).Handle(context.Background()))

	require.Eventually(t, func() bool {
		return len(conn.SentOf(kinds.BaseEventsList)) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, conn.SentOf(kinds.BaseEventsList), 1)

	f.backend.SetList("", "[7,8]")
	require.Eventually(t, func() bool {
		return len(conn.SentOf(kinds.BaseEventsList)) == 2
	}, time.Second, 5*time.Millisecond)
}
