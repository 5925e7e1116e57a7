package message

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/session"
)

const (
	pingText       = "PING"
	pongText       = "PONG"
	shutdownOKText = "shutdownOK"
	shutdownKeyLen = 64
)

// ping answers with a pong when received and sends a ping when posted.
type ping struct {
	generic
}

func (m *ping) Handle(ctx context.Context) error {
	return m.send(ctx, kinds.Pong, pongText)
}

func (m *ping) Post(ctx context.Context) error {
	return m.send(ctx, kinds.Ping, pingText)
}

// pong ends an outstanding liveness probe and revalidates the session's
// credential. Outside a probe it does nothing.
type pong struct {
	generic
}

func (m *pong) Handle(ctx context.Context) error {
	s, ok := m.boundSession()
	if !ok || !s.EndProbe() {
		return nil
	}

	cred, ok := m.d.registry.BackendCredentialFor(s.Token())
	if !ok {
		return nil
	}

	err := m.d.callBackend(ctx, "validate", func(ctx context.Context) error {
		_, err := m.d.backend.ValidateCredential(ctx, cred)
		return err
	})
	if err != nil {
		m.d.metrics.RecordProbeResult(ctx, "invalid")
		m.d.logger.Warn("Session credential failed revalidation", m.logFields(
			zap.String("principal", s.Principal()),
			zap.Error(err),
		)...)
		return nil
	}

	m.d.metrics.RecordProbeResult(ctx, "valid")
	return nil
}

// auth registers the connection under the token carried in the payload.
// A rejected token closes the connection without a reply.
type auth struct {
	generic
}

func (m *auth) Handle(ctx context.Context) error {
	if m.d.registry.IsRegistered(m.conn) {
		return nil
	}

	s, err := m.d.registry.Register(ctx, m.text, m.conn)
	switch {
	case errors.Is(err, session.ErrAlreadyRegistered):
		return nil
	case err != nil:
		m.d.metrics.RecordAuth(ctx, "rejected")
		m.d.logger.Info("Authentication failed", m.logFields(zap.Error(err))...)
		return m.conn.Close()
	}

	m.d.metrics.RecordAuth(ctx, "ok")
	return m.send(ctx, kinds.Auth, fmt.Sprintf("Client %s authorized", s.Principal()))
}

// syncRequest pushes each requested kind once, forced, regardless of
// subscriptions.
type syncRequest struct {
	generic
}

func (m *syncRequest) Handle(ctx context.Context) error {
	s, ok := m.boundSession()
	if !ok {
		return nil
	}

	for _, kind := range kinds.ParseList(m.text) {
		if err := m.d.ForOutbound("", kind, true, s).Post(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.d.logger.Debug("Sync push failed", m.logFields(zap.Stringer("requested", kind), zap.Error(err))...)
		}
	}
	return nil
}

type autosync struct {
	generic
}

func (m *autosync) Handle(ctx context.Context) error {
	if s, ok := m.boundSession(); ok {
		s.Subscriptions().Add(kinds.ParseList(m.text)...)
	}
	return nil
}

type disableSync struct {
	generic
}

func (m *disableSync) Handle(ctx context.Context) error {
	if s, ok := m.boundSession(); ok {
		s.Subscriptions().Remove(kinds.ParseList(m.text)...)
	}
	return nil
}

type disableSyncAll struct {
	generic
}

func (m *disableSyncAll) Handle(ctx context.Context) error {
	if s, ok := m.boundSession(); ok {
		s.Subscriptions().Clear()
	}
	return nil
}

// fireEvent forwards the payload to the backend. Failures are logged and
// never reported to the sender.
type fireEvent struct {
	generic
}

func (m *fireEvent) Handle(ctx context.Context) error {
	err := m.d.callBackend(ctx, "fire_event", func(ctx context.Context) error {
		return m.d.backend.FireEvent(ctx, m.text)
	})
	if err != nil {
		m.d.logger.Warn("Failed to fire event", m.logFields(zap.Error(err))...)
	}
	return nil
}

// shutdown implements the two-step shutdown handshake. An empty payload
// requests a challenge key; a non-empty payload must be that key encrypted
// with the credential cipher. Wrong answers get no reply.
type shutdown struct {
	generic
	client *Client
}

func (m *shutdown) Handle(ctx context.Context) error {
	if m.text == "" {
		key, err := newShutdownKey()
		if err != nil {
			return err
		}
		m.client.setShutdownKey(key)
		m.d.metrics.RecordShutdown(ctx, "challenge")
		return m.send(ctx, kinds.Shutdown, key)
	}

	key, err := m.d.decrypter.Decrypt(m.text)
	if err != nil || !m.client.takeShutdownKey(key) {
		m.d.metrics.RecordShutdown(ctx, "mismatch")
		m.d.logger.Debug("Ignoring shutdown response", m.logFields(zap.Bool("decrypted", err == nil))...)
		return nil
	}

	m.d.metrics.RecordShutdown(ctx, "accepted")
	m.d.logger.Info("Shutdown requested by client", m.logFields()...)

	err = m.send(ctx, kinds.Shutdown, shutdownOKText)
	m.d.triggerShutdown()
	return err
}

func newShutdownKey() (string, error) {
	buf := make([]byte, shutdownKeyLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating shutdown key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
