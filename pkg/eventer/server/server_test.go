package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/backend"
	"github.com/tsarna/eventer/pkg/eventer/credential"
	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/message"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
	"github.com/tsarna/eventer/pkg/eventer/session"
	"github.com/tsarna/eventer/pkg/eventer/wire"
)

const testInterval = 20 * time.Millisecond

var testSecrets = credential.Secrets{MasterKey: "Carab!", Salt: "EventerKOD", Pepper: "#Test~"}

type gateway struct {
	listener  *Listener
	registry  *session.Registry
	backend   *backend.Memory
	tr        *credential.Translator
	metrics   *o11y.MemoryProvider
	addr      string
	shutdowns atomic.Int32
}

type gatewayOption func(*ListenerConfig)

func startGateway(t *testing.T, opts ...gatewayOption) *gateway {
	t.Helper()

	tr, err := credential.NewTranslator(testSecrets)
	require.NoError(t, err)

	g := &gateway{
		backend: backend.NewMemory().AddCredential("soap-1", "alice"),
		tr:      tr,
		metrics: o11y.NewMemoryProvider(),
	}

	g.registry, err = session.NewRegistry(session.Config{
		Decrypter:       tr,
		Validator:       g.backend,
		Interval:        testInterval,
		Logger:          zap.NewNop(),
		MetricsProvider: g.metrics,
	})
	require.NoError(t, err)

	dispatcher, err := message.NewDispatcher(message.Config{
		Registry:        g.registry,
		Backend:         g.backend,
		Decrypter:       tr,
		OnShutdown:      func() { g.shutdowns.Add(1) },
		Logger:          zap.NewNop(),
		MetricsProvider: g.metrics,
	})
	require.NoError(t, err)
	g.registry.SetPoller(dispatcher)

	config := NewListenerConfig().
		WithRegistry(g.registry).
		WithDispatcher(dispatcher).
		WithLogger(zap.NewNop()).
		WithMetricsProvider(g.metrics).
		WithWriteTimeout(time.Second)
	for _, opt := range opts {
		opt(config)
	}
	g.listener, err = config.Build()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	g.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- g.listener.Serve(ctx, ln) }()

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		assert.NoError(t, g.listener.Shutdown(shutdownCtx))
		cancel()
		assert.NoError(t, <-served)
		g.registry.Close()
	})
	return g
}

func (g *gateway) token(t *testing.T, cred string) string {
	t.Helper()
	tok, err := g.tr.Encrypt(cred)
	require.NoError(t, err)
	return tok
}

type client struct {
	t      *testing.T
	conn   net.Conn
	reader *wire.Reader
}

func (g *gateway) dial(t *testing.T) *client {
	t.Helper()
	conn, err := net.Dial("tcp", g.addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, reader: wire.NewReader(conn, 0)}
}

// login authenticates and consumes the auth reply.
func (g *gateway) login(t *testing.T, cred string) *client {
	t.Helper()
	c := g.dial(t)
	c.send(kinds.Auth, g.token(t, cred))
	c.expect(kinds.Auth, "Client alice authorized")
	return c
}

func (c *client) send(kind kinds.Kind, text string) {
	c.t.Helper()
	require.NoError(c.t, wire.Write(c.conn, kind.Code(), text))
}

func (c *client) sendRaw(data []byte) {
	c.t.Helper()
	_, err := c.conn.Write(data)
	require.NoError(c.t, err)
}

func (c *client) read(timeout time.Duration) (wire.Frame, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	return c.reader.ReadFrame()
}

func (c *client) expect(kind kinds.Kind, text string) {
	c.t.Helper()
	frame, err := c.read(2 * time.Second)
	require.NoError(c.t, err)
	assert.Equal(c.t, kind.Code(), frame.Code)
	assert.Equal(c.t, text, frame.Text)
}

func (c *client) expectNothing(wait time.Duration) {
	c.t.Helper()
	frame, err := c.read(wait)
	var ne net.Error
	require.Truef(c.t, errors.As(err, &ne) && ne.Timeout(), "expected no frame, got %+v (err %v)", frame, err)
}

func (c *client) expectClosed() {
	c.t.Helper()
	_, err := c.read(2 * time.Second)
	require.Error(c.t, err)
	var ne net.Error
	assert.False(c.t, errors.As(err, &ne) && ne.Timeout(), "expected close, got timeout")
}

func TestInvalidTokenClosesWithoutReply(t *testing.T) {
	g := startGateway(t)
	c := g.dial(t)

	c.send(kinds.Auth, "not-a-token")
	c.expectClosed()

	assert.Equal(t, 0, g.registry.Len())
	require.Eventually(t, func() bool { return g.listener.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRevokedCredentialClosesWithoutReply(t *testing.T) {
	g := startGateway(t)
	c := g.dial(t)

	c.send(kinds.Auth, g.token(t, "soap-unknown"))
	c.expectClosed()
	assert.Equal(t, 0, g.registry.Len())
}

func TestValidTokenIsAcknowledged(t *testing.T) {
	g := startGateway(t)
	g.login(t, "soap-1")

	assert.Equal(t, 1, g.registry.Len())
	assert.Equal(t, int64(1), g.metrics.CounterValue("auth_attempts_total", o11y.Label{Key: "result", Value: "ok"}))
}

func TestPingBeforeAuth(t *testing.T) {
	g := startGateway(t)
	c := g.dial(t)

	c.send(kinds.Ping, "")
	c.expect(kinds.Pong, "PONG")
}

func TestAutosyncPushesOnlyChanges(t *testing.T) {
	g := startGateway(t)
	g.backend.SetTable("soap-1", "T1")
	c := g.login(t, "soap-1")

	c.send(kinds.Autosync, kinds.FormatList(kinds.BaseEventsTable))
	c.expect(kinds.BaseEventsTable, "T1")

	// Unchanged results are suppressed, so the next frame is the new value.
	time.Sleep(3 * testInterval)
	g.backend.SetTable("soap-1", "T2")
	c.expect(kinds.BaseEventsTable, "T2")

	c.send(kinds.DisableSyncAll, "")
	c.send(kinds.Ping, "")
	c.expect(kinds.Pong, "PONG")
	time.Sleep(2 * testInterval)
	g.backend.SetTable("soap-1", "T3")
	c.expectNothing(5 * testInterval)
}

func TestSyncForcesUnchangedValues(t *testing.T) {
	g := startGateway(t)
	g.backend.SetList("", "L1")
	c := g.login(t, "soap-1")

	c.send(kinds.Sync, kinds.FormatList(kinds.BaseEventsList))
	c.expect(kinds.BaseEventsList, "L1")
	c.send(kinds.Sync, kinds.FormatList(kinds.BaseEventsList))
	c.expect(kinds.BaseEventsList, "L1")
}

func TestShutdownHandshake(t *testing.T) {
	g := startGateway(t)
	c := g.dial(t)

	c.send(kinds.Shutdown, "")
	frame, err := c.read(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, kinds.Shutdown.Code(), frame.Code)
	require.NotEmpty(t, frame.Text)

	answer := g.token(t, frame.Text)
	c.send(kinds.Shutdown, answer)
	c.expect(kinds.Shutdown, "shutdownOK")
	assert.Equal(t, int32(1), g.shutdowns.Load())

	// The key is single use: replaying it gets no reply.
	c.send(kinds.Shutdown, answer)
	c.send(kinds.Ping, "")
	c.expect(kinds.Pong, "PONG")
	assert.Equal(t, int32(1), g.shutdowns.Load())
}

func TestShutdownWrongAnswerIsSilent(t *testing.T) {
	g := startGateway(t)
	c := g.dial(t)

	c.send(kinds.Shutdown, "")
	_, err := c.read(2 * time.Second)
	require.NoError(t, err)

	c.send(kinds.Shutdown, g.token(t, "wrong key"))
	c.send(kinds.Ping, "")
	c.expect(kinds.Pong, "PONG")
	assert.Equal(t, int32(0), g.shutdowns.Load())
}

func TestMalformedFrameIsDropped(t *testing.T) {
	g := startGateway(t)
	c := g.dial(t)

	c.sendRaw([]byte{0x00, 0x01, 0xff, 0xfe, 0x00})
	c.send(kinds.Ping, "")
	c.expect(kinds.Pong, "PONG")
	assert.Equal(t, int64(1), g.metrics.CounterValue("frame_errors_total", o11y.Label{Key: "error_type", Value: "decode"}))
}

func TestUnknownCodeIsAcknowledged(t *testing.T) {
	g := startGateway(t)
	c := g.dial(t)

	c.sendRaw([]byte{0x00, 99, 'h', 'i', 0x00})
	c.expect(kinds.Reserved, "Got the message: hi kind(99)")
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	g := startGateway(t, func(c *ListenerConfig) { c.WithMaxFrameBytes(16) })
	c := g.dial(t)

	data := append([]byte{0x00, 0x0c}, make([]byte, 64)...)
	for i := 2; i < len(data); i++ {
		data[i] = 'a'
	}
	c.sendRaw(append(data, 0x00))
	c.expectClosed()
}

func TestDuplicateTokenEvictsOlderConnection(t *testing.T) {
	g := startGateway(t)
	first := g.login(t, "soap-1")
	second := g.login(t, "soap-1")

	first.expectClosed()
	second.send(kinds.Ping, "")
	second.expect(kinds.Pong, "PONG")
	assert.Equal(t, 1, g.registry.Len())
}

func TestDisconnectReleasesSession(t *testing.T) {
	g := startGateway(t)
	c := g.login(t, "soap-1")
	require.Equal(t, 1, g.registry.Len())

	require.NoError(t, c.conn.Close())
	require.Eventually(t, func() bool {
		return g.registry.Len() == 0 && g.listener.ConnectionCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReadTimeoutClosesIdleConnection(t *testing.T) {
	g := startGateway(t, func(c *ListenerConfig) { c.WithReadTimeout(50 * time.Millisecond) })
	c := g.dial(t)
	c.expectClosed()
}

func TestShutdownClosesConnections(t *testing.T) {
	g := startGateway(t)
	c := g.login(t, "soap-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.listener.Shutdown(ctx))

	c.expectClosed()
	assert.Equal(t, 0, g.listener.ConnectionCount())

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", g.addr, 100*time.Millisecond)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, time.Second, 10*time.Millisecond)
}
