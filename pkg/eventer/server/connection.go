package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/message"
	"github.com/tsarna/eventer/pkg/eventer/wire"
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection runs the framed protocol over one net.Conn. Frames are read
// and handled one at a time; writes from the read loop and the session's
// push task are serialized by writeMu.
type Connection struct {
	id        string
	nc        net.Conn
	transport string
	config    *ListenerConfig
	logger    *zap.Logger
	metrics   *ConnectionMetrics
	client    *message.Client
	started   time.Time

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(nc net.Conn, transport string, config *ListenerConfig, metrics *ConnectionMetrics) *Connection {
	id := uuid.NewString()
	c := &Connection{
		id:        id,
		nc:        nc,
		transport: transport,
		config:    config,
		metrics:   metrics,
		started:   time.Now(),
		done:      make(chan struct{}),
		logger: config.logger.With(
			zap.String("conn_id", id),
			zap.String("transport", transport),
			zap.String("remote_addr", remoteAddr(nc)),
		),
	}
	c.client = message.NewClient(c)
	return c
}

func remoteAddr(nc net.Conn) string {
	if addr := nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Done() <-chan struct{} { return c.done }

// Send writes one frame. A write that fails or times out closes the
// connection, since a partial frame would corrupt the stream.
func (c *Connection) Send(ctx context.Context, kind kinds.Kind, text string) error {
	data, err := wire.Encode(kind.Code(), text)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	deadline := time.Now().Add(c.config.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.nc.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.nc.SetWriteDeadline(time.Now()) })
	defer stop()

	if _, err := c.nc.Write(data); err != nil {
		var ne net.Error
		timeout := errors.As(err, &ne) && ne.Timeout()
		c.metrics.RecordWriteError(ctx, timeout)
		c.logger.Debug("Frame write failed", zap.Stringer("kind", kind), zap.Error(err))
		_ = c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.nc.Close()
	})
	return err
}

// run reads and dispatches frames until the connection fails or ctx ends,
// then releases the connection's session.
func (c *Connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	c.logger.Debug("Connection started")
	c.readLoop(ctx)

	c.config.registry.DeregisterConn(c)
	_ = c.Close()
	c.metrics.RecordConnectionEnd(context.Background(), time.Since(c.started))
	c.logger.Debug("Connection finished", zap.Duration("duration", time.Since(c.started)))
}

func (c *Connection) readLoop(ctx context.Context) {
	reader := wire.NewReader(c.nc, c.config.maxFrameBytes)

	for {
		if c.config.readTimeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.config.readTimeout))
		}

		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, wire.ErrDecode) {
				c.metrics.RecordFrameError(ctx, "decode")
				c.logger.Debug("Dropping malformed frame", zap.Error(err))
				continue
			}
			c.readFailed(ctx, err)
			return
		}

		kind, known := kinds.ByCode(frame.Code)
		if !known {
			kind = kinds.Kind(frame.Code)
			c.metrics.RecordFrameError(ctx, "unknown_kind")
		}
		c.metrics.RecordFrameReceived(ctx, len(frame.Text)+3, kind.String())

		msg := c.config.dispatcher.ForInbound(frame.Text, kind, c.client)
		if err := msg.Handle(ctx); err != nil {
			c.logger.Debug("Message handling failed", zap.Stringer("kind", kind), zap.Error(err))
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *Connection) readFailed(ctx context.Context, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, wire.ErrFrameTooLarge):
		c.metrics.RecordFrameError(ctx, "too_large")
		c.logger.Warn("Closing connection after oversized frame", zap.Int("max_frame_bytes", c.config.maxFrameBytes))
	case errors.As(err, &ne) && ne.Timeout():
		c.logger.Debug("Closing idle connection", zap.Duration("read_timeout", c.config.readTimeout))
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug("Connection closed")
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.metrics.RecordFrameError(ctx, "truncated")
		c.logger.Debug("Connection closed mid-frame")
	default:
		c.logger.Debug("Connection read failed", zap.Error(err))
	}
}
