package message

import (
	"context"

	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/session"
)

// snapshot is shared by the kinds that push a backend snapshot with change
// suppression.
type snapshot struct {
	generic
	session *session.Session
	force   bool
}

// deliver sends result unless it equals the previous value and the push is
// not forced. The session's last-sent value changes only after a write.
func (m *snapshot) deliver(ctx context.Context, result string) error {
	if !m.force && result == m.text {
		m.d.metrics.RecordSuppressed(ctx, m.kind)
		return nil
	}
	if err := m.send(ctx, m.kind, result); err != nil {
		return err
	}
	m.session.RecordSent(m.kind, result)
	return nil
}

func (m *snapshot) credential() (string, bool) {
	return m.d.registry.BackendCredentialFor(m.session.Token())
}

func (m *snapshot) fail(ctx context.Context, operation string, err error, report bool) error {
	m.d.logger.Debug("Backend snapshot failed", m.logFields(
		zap.String("operation", operation),
		zap.Bool("force", m.force),
		zap.Error(err),
	)...)
	if report {
		if sendErr := m.send(ctx, kinds.Error, err.Error()); sendErr != nil {
			return sendErr
		}
	}
	return err
}

// eventsTable pushes the notification table from the stored query. Backend
// failures reach the client only on forced pushes.
type eventsTable struct {
	snapshot
}

func (m *eventsTable) Post(ctx context.Context) error {
	cred, ok := m.credential()
	if !ok {
		return nil
	}

	var result string
	err := m.d.callBackend(ctx, "stored_query", func(ctx context.Context) error {
		var err error
		result, err = m.d.backend.RunStoredQuery(ctx, cred, m.d.tableQuery, map[string]string{
			TableWindowParam: m.d.tableDays,
		})
		return err
	})
	if err != nil {
		return m.fail(ctx, "stored_query", err, m.force)
	}

	return m.deliver(ctx, result)
}

// eventsList pushes the notification list. Backend failures always reach
// the client as an error frame.
type eventsList struct {
	snapshot
}

func (m *eventsList) Post(ctx context.Context) error {
	cred, ok := m.credential()
	if !ok {
		return nil
	}

	var result string
	err := m.d.callBackend(ctx, "notify_messages", func(ctx context.Context) error {
		var err error
		result, err = m.d.backend.GetNotifyMessages(ctx, cred)
		return err
	})
	if err != nil {
		return m.fail(ctx, "notify_messages", err, true)
	}

	return m.deliver(ctx, result)
}
