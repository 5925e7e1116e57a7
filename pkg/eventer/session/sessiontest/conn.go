// Package sessiontest provides an in-memory session.Conn for tests.
package sessiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
)

var ErrClosed = errors.New("connection closed")

// Sent is one frame written to a Conn.
type Sent struct {
	Kind kinds.Kind
	Text string
}

// Conn records every frame sent to it.
type Conn struct {
	id string

	mu      sync.Mutex
	sent    []Sent
	sendErr error
	stall   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(id string) *Conn {
	return &Conn{id: id, done: make(chan struct{})}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(ctx context.Context, kind kinds.Kind, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	stall := c.stall
	c.mu.Unlock()
	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{Kind: kind, Text: text})
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// FailSends makes Send return err until cleared with nil.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Stall makes Send block until the returned release func is called, ctx
// ends or the connection is closed.
func (c *Conn) Stall() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.stall = ch
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.stall == ch {
				c.stall = nil
			}
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Sent returns every frame sent so far.
func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOf returns the frames sent with the given kind.
func (c *Conn) SentOf(kind kinds.Kind) []Sent {
	var out []Sent
	for _, s := range c.Sent() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets the frames sent so far.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
