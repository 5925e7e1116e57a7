// Package message turns decoded frames into typed messages and runs them.
//
// Inbound messages come from a client frame and are executed with Handle.
// Outbound messages are server-initiated, built by the push task or by a
// sync request, and executed with Post. Each protocol kind has its own
// variant; kinds without one fall back to a generic variant that
// acknowledges inbound frames and sends outbound text verbatim.
package message

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rickb777/date/period"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/backend"
	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
	"github.com/tsarna/eventer/pkg/eventer/session"
)

const (
	DefaultTableQuery  = "GET_NOTIFY_MESSAGES"
	DefaultTableWindow = "P1D"

	// TableWindowParam is the stored-query parameter carrying the window
	// length in days.
	TableWindowParam = "DAYS"
)

// Decrypter recovers plaintext from a client-encrypted value.
type Decrypter interface {
	Decrypt(opaque string) (string, error)
}

// Config configures a Dispatcher.
type Config struct {
	Registry   *session.Registry
	Backend    backend.Backend
	Decrypter  Decrypter
	OnShutdown func()

	// TableQuery names the stored query behind baseEventsTable.
	TableQuery string

	// TableWindow is an ISO-8601 period such as "P1D" or "P1W". It is
	// passed to the stored query as a whole number of days.
	TableWindow string

	Logger          *zap.Logger
	MetricsProvider o11y.MetricsProvider
	TracingProvider o11y.TracingProvider
}

// Dispatcher builds messages and holds everything they need to run.
type Dispatcher struct {
	registry  *session.Registry
	backend   backend.Backend
	decrypter Decrypter
	logger    *zap.Logger
	metrics   *Metrics
	tracer    o11y.TracingProvider

	tableQuery string
	tableDays  string

	onShutdown   func()
	shutdownOnce sync.Once
}

func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("dispatcher requires a session registry")
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("dispatcher requires a backend")
	}
	if config.Decrypter == nil {
		return nil, fmt.Errorf("dispatcher requires a decrypter")
	}
	if config.TableQuery == "" {
		config.TableQuery = DefaultTableQuery
	}
	if config.TableWindow == "" {
		config.TableWindow = DefaultTableWindow
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.OnShutdown == nil {
		config.OnShutdown = func() {}
	}

	days, err := windowDays(config.TableWindow)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		registry:   config.Registry,
		backend:    config.Backend,
		decrypter:  config.Decrypter,
		logger:     config.Logger,
		metrics:    NewMetrics(config.MetricsProvider),
		tracer:     config.TracingProvider,
		tableQuery: config.TableQuery,
		tableDays:  strconv.Itoa(days),
		onShutdown: config.OnShutdown,
	}, nil
}

// windowDays converts an ISO-8601 period to whole days, rounding up.
func windowDays(window string) (int, error) {
	p, err := period.Parse(window)
	if err != nil {
		return 0, fmt.Errorf("invalid table window %q: %w", window, err)
	}
	d := p.DurationApprox()
	if d <= 0 {
		return 0, fmt.Errorf("table window %q must be positive", window)
	}
	return int(math.Ceil(d.Hours() / 24)), nil
}

// ForInbound builds the message for a frame received from client.
func (d *Dispatcher) ForInbound(text string, kind kinds.Kind, client *Client) Message {
	b := generic{d: d, kind: kind, text: text, conn: client.conn}

	switch kind {
	case kinds.Ping:
		return &ping{generic: b}
	case kinds.Pong:
		return &pong{generic: b}
	case kinds.Auth:
		return &auth{generic: b}
	case kinds.Sync:
		return &syncRequest{generic: b}
	case kinds.Autosync:
		return &autosync{generic: b}
	case kinds.DisableSync:
		return &disableSync{generic: b}
	case kinds.DisableSyncAll:
		return &disableSyncAll{generic: b}
	case kinds.FireEvent:
		return &fireEvent{generic: b}
	case kinds.Shutdown:
		return &shutdown{generic: b, client: client}
	default:
		return &b
	}
}

// ForOutbound builds the message pushing kind to s. previous is the value
// last sent for kind; force sends even when nothing changed.
func (d *Dispatcher) ForOutbound(previous string, kind kinds.Kind, force bool, s *session.Session) Message {
	b := generic{d: d, kind: kind, text: previous, conn: s.Conn()}

	switch kind {
	case kinds.Ping:
		return &ping{generic: b}
	case kinds.BaseEventsTable:
		return &eventsTable{snapshot: snapshot{generic: b, session: s, force: force}}
	case kinds.BaseEventsList:
		return &eventsList{snapshot: snapshot{generic: b, session: s, force: force}}
	default:
		return &b
	}
}

// Poll posts kind to s. Unforced polls of kinds without a backend source
// are skipped, since there is nothing new to observe.
func (d *Dispatcher) Poll(ctx context.Context, s *session.Session, kind kinds.Kind, force bool) error {
	if !force && !polled(kind) {
		return nil
	}
	return d.ForOutbound(s.LastSent(kind), kind, force, s).Post(ctx)
}

func polled(kind kinds.Kind) bool {
	switch kind {
	case kinds.Ping, kinds.BaseEventsTable, kinds.BaseEventsList:
		return true
	}
	return false
}

// triggerShutdown runs the shutdown hook at most once.
func (d *Dispatcher) triggerShutdown() {
	d.shutdownOnce.Do(d.onShutdown)
}

// callBackend runs fn inside a span and records its duration and outcome.
func (d *Dispatcher) callBackend(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := o11y.StartSpan(ctx, d.tracer, "backend."+operation)
	span.SetAttributes(o11y.Label{Key: "operation", Value: operation})

	start := time.Now()
	err := fn(ctx)
	d.metrics.RecordBackendCall(ctx, operation, time.Since(start), err)
	o11y.EndSpan(span, err)

	return err
}
