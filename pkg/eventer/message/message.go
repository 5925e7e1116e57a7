package message

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/session"
)

// Message is one protocol message, either received or about to be sent.
type Message interface {
	Kind() kinds.Kind
	Text() string

	// Handle executes a message received from the client.
	Handle(ctx context.Context) error

	// Post sends a server-initiated message.
	Post(ctx context.Context) error
}

// Client is the per-connection state inbound messages act on.
type Client struct {
	conn session.Conn

	mu          sync.Mutex
	shutdownKey string
}

func NewClient(conn session.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Conn() session.Conn { return c.conn }

func (c *Client) setShutdownKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownKey = key
}

// takeShutdownKey returns the pending key if it equals candidate and
// clears it, so a key can be used once.
func (c *Client) takeShutdownKey(candidate string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdownKey == "" || c.shutdownKey != candidate {
		return false
	}
	c.shutdownKey = ""
	return true
}

// generic backs every kind without a dedicated variant and is embedded in
// all the others.
type generic struct {
	d    *Dispatcher
	kind kinds.Kind
	text string
	conn session.Conn
}

func (m *generic) Kind() kinds.Kind { return m.kind }
func (m *generic) Text() string     { return m.text }

func (m *generic) Handle(ctx context.Context) error {
	return m.send(ctx, kinds.Reserved, "Got the message: "+m.text+" "+m.kind.String())
}

func (m *generic) Post(ctx context.Context) error {
	return m.send(ctx, m.kind, m.text)
}

func (m *generic) send(ctx context.Context, kind kinds.Kind, text string) error {
	if err := m.conn.Send(ctx, kind, text); err != nil {
		return err
	}
	m.d.metrics.RecordSent(ctx, kind)
	return nil
}

// session returns the session bound to the message's connection.
func (m *generic) boundSession() (*session.Session, bool) {
	return m.d.registry.SessionFor(m.conn)
}

func (m *generic) logFields(extra ...zap.Field) []zap.Field {
	return append([]zap.Field{zap.String("conn_id", m.conn.ID()), zap.Stringer("kind", m.kind)}, extra...)
}
