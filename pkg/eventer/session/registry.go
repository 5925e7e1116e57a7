package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/o11y"
)

var (
	// ErrRegistration wraps every failed Register call. The underlying
	// credential or backend error is joined to it.
	ErrRegistration = errors.New("session registration failed")

	// ErrAlreadyRegistered means the connection already holds a session.
	ErrAlreadyRegistered = errors.New("connection already registered")

	ErrRegistryClosed = errors.New("session registry closed")
	ErrNoPoller       = errors.New("session registry has no poller")
)

// Decrypter recovers a backend credential from a client token.
type Decrypter interface {
	Decrypt(token string) (string, error)
}

// Validator checks a backend credential and returns its principal.
type Validator interface {
	ValidateCredential(ctx context.Context, cred string) (string, error)
}

// PushMode selects what a session's push task polls each cycle.
type PushMode string

const (
	// PushSubscribed polls every subscribed kind each cycle.
	PushSubscribed PushMode = "subscribed"

	// PushAlternate alternates baseEventsTable and baseEventsList regardless
	// of subscriptions.
	PushAlternate PushMode = "alternate"
)

const DefaultPushInterval = 5 * time.Second

// Config configures a Registry.
type Config struct {
	Decrypter       Decrypter
	Validator       Validator
	Poller          Poller
	Interval        time.Duration
	Mode            PushMode
	Logger          *zap.Logger
	MetricsProvider o11y.MetricsProvider
}

// Registry maps client tokens to live sessions and connections to tokens.
// It allows one session per token and one token per connection.
type Registry struct {
	decrypter Decrypter
	validator Validator
	interval  time.Duration
	mode      PushMode
	logger    *zap.Logger
	metrics   *Metrics

	mu       sync.RWMutex
	poller   Poller
	sessions map[string]*Session // token -> session
	conns    map[string]string   // conn ID -> token
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(config Config) (*Registry, error) {
	if config.Decrypter == nil {
		return nil, fmt.Errorf("session registry requires a decrypter")
	}
	if config.Validator == nil {
		return nil, fmt.Errorf("session registry requires a validator")
	}

	switch config.Mode {
	case "":
		config.Mode = PushSubscribed
	case PushSubscribed, PushAlternate:
	default:
		return nil, fmt.Errorf("unknown push mode %q", config.Mode)
	}

	if config.Interval <= 0 {
		config.Interval = DefaultPushInterval
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		decrypter: config.Decrypter,
		validator: config.Validator,
		poller:    config.Poller,
		interval:  config.Interval,
		mode:      config.Mode,
		logger:    config.Logger,
		metrics:   NewMetrics(config.MetricsProvider),
		sessions:  make(map[string]*Session),
		conns:     make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetPoller installs the poller used by push tasks and the prober. It must
// be called before the first Register.
func (r *Registry) SetPoller(p Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poller = p
}

func (r *Registry) Interval() time.Duration { return r.interval }
func (r *Registry) Mode() PushMode          { return r.mode }

// Register authenticates token and binds it to conn. On success the
// session's push task is running. A session already holding token on
// another connection is evicted: its push task stops and its connection is
// closed. Nothing is registered on failure.
func (r *Registry) Register(ctx context.Context, token string, conn Conn) (*Session, error) {
	if r.IsRegistered(conn) {
		return nil, ErrAlreadyRegistered
	}

	cred, err := r.decrypter.Decrypt(token)
	if err != nil {
		r.metrics.RecordRegistration(ctx, "credential")
		return nil, fmt.Errorf("%w: %w", ErrRegistration, err)
	}

	principal, err := r.validator.ValidateCredential(ctx, cred)
	if err != nil {
		r.metrics.RecordRegistration(ctx, "rejected")
		return nil, fmt.Errorf("%w: %w", ErrRegistration, err)
	}

	s := newSession(token, cred, principal, conn)

	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	case r.poller == nil:
		r.mu.Unlock()
		return nil, ErrNoPoller
	}
	if _, ok := r.conns[conn.ID()]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}

	evicted := r.sessions[token]
	if evicted != nil {
		r.removeLocked(evicted)
	}

	taskCtx, cancel := context.WithCancel(r.ctx)
	s.cancel = cancel
	r.sessions[token] = s
	r.conns[conn.ID()] = token
	count := len(r.sessions)
	poller := r.poller

	r.wg.Add(1)
	go r.push(taskCtx, s, poller)
	r.mu.Unlock()

	if evicted != nil {
		evicted.cancel()
		_ = evicted.conn.Close()
		r.metrics.RecordEviction(ctx)
		r.logger.Info("Evicted session for re-registered token",
			zap.String("principal", principal),
			zap.String("old_conn_id", evicted.conn.ID()),
			zap.String("conn_id", conn.ID()),
		)
	}

	r.metrics.RecordRegistration(ctx, "ok")
	r.metrics.RecordActive(ctx, count)
	r.logger.Debug("Session registered", zap.String("principal", principal), zap.String("conn_id", conn.ID()))

	return s, nil
}

// IsRegistered reports whether conn holds a session.
func (r *Registry) IsRegistered(conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[conn.ID()]
	return ok
}

// SessionFor returns the session bound to conn.
func (r *Registry) SessionFor(conn Conn) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.conns[conn.ID()]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[token]
	return s, ok
}

// BackendCredentialFor returns the credential stored for token without
// decrypting it again.
func (r *Registry) BackendCredentialFor(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	if !ok {
		return "", false
	}
	return s.credential, true
}

// Deregister stops the session for token and releases its connection
// entry. It does not close the connection. Unknown tokens are ignored.
func (r *Registry) Deregister(token string) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok {
		r.removeLocked(s)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.stopped(s, count)
	}
}

// DeregisterConn deregisters whichever session is bound to conn.
func (r *Registry) DeregisterConn(conn Conn) {
	r.mu.RLock()
	token, ok := r.conns[conn.ID()]
	r.mu.RUnlock()

	if ok {
		r.deregisterSession(token, conn.ID())
	}
}

// deregisterSession removes token only if it is still bound to connID, so
// a stale caller cannot remove a session that replaced it.
func (r *Registry) deregisterSession(token, connID string) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok && s.conn.ID() != connID {
		ok = false
	}
	if ok {
		r.removeLocked(s)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.stopped(s, count)
	}
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.sessions, s.token)
	delete(r.conns, s.conn.ID())
}

func (r *Registry) stopped(s *Session, count int) {
	s.cancel()
	r.metrics.RecordActive(context.Background(), count)
	r.logger.Debug("Session deregistered", zap.String("principal", s.principal), zap.String("conn_id", s.conn.ID()))
}

// Sessions returns a snapshot of the live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) currentPoller() Poller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.poller
}

// Close deregisters every session and waits for their push tasks to exit.
// Connections are left open for the transport to close.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	clear(r.sessions)
	clear(r.conns)
	r.mu.Unlock()

	r.cancel()
	for _, s := range sessions {
		s.cancel()
	}
	r.wg.Wait()
	r.metrics.RecordActive(context.Background(), 0)
}
