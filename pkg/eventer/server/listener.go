// Package server carries the eventer protocol over TCP and WebSocket
// connections and exposes the admin HTTP endpoints.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	TransportTCP       = "tcp"
	TransportWebsocket = "websocket"
)

// Listener accepts connections and runs one Connection per client. It
// tracks live connections for graceful shutdown.
type Listener struct {
	config  *ListenerConfig
	logger  *zap.Logger
	metrics *ConnectionMetrics

	connections  map[*Connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// newListener is called by ListenerConfig.Build.
func newListener(config *ListenerConfig) *Listener {
	return &Listener{
		config:      config,
		logger:      config.logger,
		metrics:     NewConnectionMetrics(config.metricsProvider),
		connections: make(map[*Connection]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// Serve accepts TCP connections on ln until ctx is cancelled or Shutdown
// is called. It closes ln before returning.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-ctx.Done():
		case <-l.shutdown:
		case <-served:
		}
		_ = ln.Close()
	}()

	l.logger.Info("Accepting connections", zap.String("addr", ln.Addr().String()))

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if l.isShuttingDown() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			l.logger.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		go l.handle(ctx, nc, TransportTCP)
	}
}

// ServeWebsocket upgrades an HTTP request and runs the framed protocol
// over binary WebSocket messages. It can be mounted on any router.
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		return
	}

	if l.isShuttingDown() {
		l.metrics.RecordRejected(r.Context(), TransportWebsocket)
		ws.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}

	ws.SetReadLimit(int64(l.config.maxFrameBytes))
	nc := websocket.NetConn(r.Context(), ws, websocket.MessageBinary)
	l.handle(r.Context(), nc, TransportWebsocket)
}

// handle runs a connection to completion.
func (l *Listener) handle(ctx context.Context, nc net.Conn, transport string) {
	if l.isShuttingDown() {
		l.metrics.RecordRejected(ctx, transport)
		_ = nc.Close()
		return
	}

	conn := newConnection(nc, transport, l.config, l.metrics)

	l.connMutex.Lock()
	l.connections[conn] = struct{}{}
	connCount := len(l.connections)
	l.connMutex.Unlock()

	l.metrics.RecordConnectionStart(ctx, transport)
	l.metrics.RecordConnectionActive(ctx, connCount)

	conn.run(ctx)

	l.connMutex.Lock()
	delete(l.connections, conn)
	connCount = len(l.connections)
	l.connMutex.Unlock()

	l.metrics.RecordConnectionActive(context.Background(), connCount)
}

func (l *Listener) isShuttingDown() bool {
	select {
	case <-l.shutdown:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting connections, closes the live ones and waits
// until they have all been cleaned up or ctx is done.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting graceful shutdown")
		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*Connection, 0, len(l.connections))
		for conn := range l.connections {
			connections = append(connections, conn)
		}
		l.connMutex.RUnlock()

		if len(connections) == 0 {
			return
		}

		l.logger.Info("Closing active connections", zap.Int("connection_count", len(connections)))
		for _, conn := range connections {
			_ = conn.Close()
		}
	})

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := l.ConnectionCount()
		if remaining == 0 {
			l.logger.Info("All connections closed")
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConnectionCount returns the number of live connections.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}
