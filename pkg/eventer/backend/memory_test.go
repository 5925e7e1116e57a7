package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCredentials(t *testing.T) {
	ctx := context.Background()
	m := NewMemory().AddCredential("cred-1", "user-1")

	principal, err := m.ValidateCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal)
	assert.Equal(t, 1, m.Validations("cred-1"))

	_, err = m.ValidateCredential(ctx, "cred-2")
	assert.ErrorIs(t, err, ErrCredential)

	m.RevokeCredential("cred-1")
	_, err = m.ValidateCredential(ctx, "cred-1")
	assert.ErrorIs(t, err, ErrCredential)
}

func TestMemorySnapshots(t *testing.T) {
	ctx := context.Background()
	m := NewMemory().AddCredential("cred-1", "user-1").AddCredential("cred-2", "user-2")

	m.SetTable("", "default-table")
	m.SetTable("cred-2", "own-table")
	m.SetList("cred-1", "list-1")

	text, err := m.RunStoredQuery(ctx, "cred-1", "GET_NOTIFY_MESSAGES", map[string]string{"DAYS": "1"})
	require.NoError(t, err)
	assert.Equal(t, "default-table", text)

	text, err = m.RunStoredQuery(ctx, "cred-2", "GET_NOTIFY_MESSAGES", nil)
	require.NoError(t, err)
	assert.Equal(t, "own-table", text)

	calls := m.Queries()
	require.Len(t, calls, 2)
	assert.Equal(t, "GET_NOTIFY_MESSAGES", calls[0].Query)
	assert.Equal(t, map[string]string{"DAYS": "1"}, calls[0].Params)

	text, err = m.GetNotifyMessages(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "list-1", text)

	_, err = m.GetNotifyMessages(ctx, "unknown")
	assert.ErrorIs(t, err, ErrCredential)
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory().AddCredential("cred-1", "user-1")
	boom := errors.New("oracle down")

	m.FailTable(boom)
	_, err := m.RunStoredQuery(ctx, "cred-1", "Q", nil)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, boom)

	m.FailList(boom)
	_, err = m.GetNotifyMessages(ctx, "cred-1")
	assert.ErrorIs(t, err, ErrBackend)

	m.FailFire(boom)
	assert.ErrorIs(t, m.FireEvent(ctx, "x"), ErrBackend)
	assert.Empty(t, m.Fired())

	m.FailTable(nil)
	m.FailList(nil)
	m.FailFire(nil)

	_, err = m.RunStoredQuery(ctx, "cred-1", "Q", nil)
	assert.NoError(t, err)
	assert.NoError(t, m.FireEvent(ctx, "x"))
	assert.Equal(t, []string{"x"}, m.Fired())
}
