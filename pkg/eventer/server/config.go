package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/message"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
	"github.com/tsarna/eventer/pkg/eventer/session"
	"github.com/tsarna/eventer/pkg/eventer/wire"
)

// ListenerConfig holds the configuration for creating a Listener.
// Use NewListenerConfig() and chain methods to set the required
// parameters before calling Build().
type ListenerConfig struct {
	registry        *session.Registry
	dispatcher      *message.Dispatcher
	logger          *zap.Logger
	metricsProvider o11y.MetricsProvider
	readTimeout     time.Duration
	writeTimeout    time.Duration
	maxFrameBytes   int
}

const (
	// DefaultWriteTimeout bounds a single frame write. A client that cannot
	// take a frame in this time is disconnected.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadTimeout of zero lets connections stay idle indefinitely.
	DefaultReadTimeout = 0
)

// NewListenerConfig creates a ListenerConfig with defaults.
//
// Example:
//
//	listener, err := server.NewListenerConfig().
//	    WithRegistry(registry).
//	    WithDispatcher(dispatcher).
//	    WithLogger(logger).
//	    WithWriteTimeout(5 * time.Second).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		readTimeout:   DefaultReadTimeout,
		writeTimeout:  DefaultWriteTimeout,
		maxFrameBytes: wire.DefaultMaxFrameBytes,
	}
}

// WithRegistry sets the session registry. Required.
func (c *ListenerConfig) WithRegistry(registry *session.Registry) *ListenerConfig {
	c.registry = registry
	return c
}

// WithDispatcher sets the message dispatcher. Required.
func (c *ListenerConfig) WithDispatcher(dispatcher *message.Dispatcher) *ListenerConfig {
	c.dispatcher = dispatcher
	return c
}

// WithLogger sets the logger. Required.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithMetricsProvider enables connection metrics.
func (c *ListenerConfig) WithMetricsProvider(provider o11y.MetricsProvider) *ListenerConfig {
	c.metricsProvider = provider
	return c
}

// WithReadTimeout closes connections that send nothing for timeout.
// Zero disables the limit.
func (c *ListenerConfig) WithReadTimeout(timeout time.Duration) *ListenerConfig {
	if timeout >= 0 {
		c.readTimeout = timeout
	}
	return c
}

// WithWriteTimeout sets the per-frame write deadline. Must be positive.
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithMaxFrameBytes bounds the size of an inbound frame, header and
// terminator included. Must be positive.
func (c *ListenerConfig) WithMaxFrameBytes(n int) *ListenerConfig {
	if n > 0 {
		c.maxFrameBytes = n
	}
	return c
}

// IsValid reports which required settings are missing.
func (c *ListenerConfig) IsValid() error {
	var missing []string
	if c.registry == nil {
		missing = append(missing, "registry")
	}
	if c.dispatcher == nil {
		missing = append(missing, "dispatcher")
	}
	if c.logger == nil {
		missing = append(missing, "logger")
	}
	if len(missing) > 0 {
		return fmt.Errorf("listener config missing: %v", missing)
	}
	return nil
}

// Build validates the configuration and creates the Listener.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}
	return newListener(c), nil
}
