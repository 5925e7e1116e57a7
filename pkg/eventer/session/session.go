// Package session owns authenticated client sessions: the token registry,
// each session's event subscriptions and last-sent cache, the per-session
// push task and the liveness prober.
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
)

// Conn is the transport connection a session pushes to. Send must be safe
// for concurrent use.
type Conn interface {
	ID() string
	Send(ctx context.Context, kind kinds.Kind, text string) error
	Close() error

	// Done is closed once the connection is closed.
	Done() <-chan struct{}
}

// Poller builds and posts one outbound message of the given kind for a
// session. The message package provides the implementation.
type Poller interface {
	Poll(ctx context.Context, s *Session, kind kinds.Kind, force bool) error
}

// PollerFunc adapts a function to the Poller interface.
type PollerFunc func(ctx context.Context, s *Session, kind kinds.Kind, force bool) error

func (f PollerFunc) Poll(ctx context.Context, s *Session, kind kinds.Kind, force bool) error {
	return f(ctx, s, kind, force)
}

// Session is one authenticated client. Everything except the subscription
// state and the probe flag is fixed at registration.
type Session struct {
	token      string
	credential string
	principal  string
	conn       Conn
	created    time.Time

	subs    *Subscriptions
	probing atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(token, credential, principal string, conn Conn) *Session {
	return &Session{
		token:      token,
		credential: credential,
		principal:  principal,
		conn:       conn,
		created:    time.Now(),
		subs:       NewSubscriptions(),
		done:       make(chan struct{}),
	}
}

func (s *Session) Token() string                 { return s.token }
func (s *Session) Credential() string            { return s.credential }
func (s *Session) Principal() string             { return s.principal }
func (s *Session) Conn() Conn                    { return s.conn }
func (s *Session) Created() time.Time            { return s.created }
func (s *Session) Subscriptions() *Subscriptions { return s.subs }

// Stopped is closed when the session's push task has exited.
func (s *Session) Stopped() <-chan struct{} {
	return s.done
}

// RecordSent stores text as the last value pushed for kind. Call it only
// after the frame was written.
func (s *Session) RecordSent(kind kinds.Kind, text string) {
	s.subs.setLastSent(kind, text)
}

// LastSent returns the last value pushed for kind, or "" if none.
func (s *Session) LastSent(kind kinds.Kind) string {
	return s.subs.LastSent(kind)
}

// BeginProbe marks the session as waiting for a pong.
func (s *Session) BeginProbe() {
	s.probing.Store(true)
}

// EndProbe clears the probe flag and reports whether it was set.
func (s *Session) EndProbe() bool {
	return s.probing.CompareAndSwap(true, false)
}

// Probing reports whether a liveness probe is outstanding.
func (s *Session) Probing() bool {
	return s.probing.Load()
}

// Subscriptions tracks the kinds a client asked to have pushed and the last
// value sent for each kind.
type Subscriptions struct {
	mu       sync.Mutex
	kinds    map[kinds.Kind]struct{}
	lastSent map[kinds.Kind]string
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		kinds:    make(map[kinds.Kind]struct{}),
		lastSent: make(map[kinds.Kind]string),
	}
}

func (s *Subscriptions) Add(ks ...kinds.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range ks {
		s.kinds[k] = struct{}{}
	}
}

// Remove unsubscribes ks. Their last-sent values are kept, so a later
// subscription still suppresses an unchanged value.
func (s *Subscriptions) Remove(ks ...kinds.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range ks {
		delete(s.kinds, k)
	}
}

// Clear removes every subscription. Last-sent values are kept.
func (s *Subscriptions) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.kinds)
}

func (s *Subscriptions) Has(kind kinds.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.kinds[kind]
	return ok
}

// Kinds returns the subscribed kinds in code order.
func (s *Subscriptions) Kinds() []kinds.Kind {
	s.mu.Lock()
	out := make([]kinds.Kind, 0, len(s.kinds))
	for k := range s.kinds {
		out = append(out, k)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kinds)
}

func (s *Subscriptions) LastSent(kind kinds.Kind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent[kind]
}

func (s *Subscriptions) setLastSent(kind kinds.Kind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent[kind] = text
}

func (s *Subscriptions) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.kinds)
	clear(s.lastSent)
}
