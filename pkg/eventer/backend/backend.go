// Package backend defines the operations the gateway consumes from the
// authentication/query service, plus an in-memory and an HTTP implementation.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrCredential means the backend rejected the credential.
	ErrCredential = errors.New("backend rejected credential")

	// ErrBackend wraps every other downstream failure.
	ErrBackend = errors.New("backend call failed")
)

// Backend is the downstream service. Implementations must be safe for
// concurrent use; every session's push task calls it independently.
type Backend interface {
	// ValidateCredential checks that cred is currently valid and returns
	// the principal it belongs to.
	ValidateCredential(ctx context.Context, cred string) (string, error)

	// RunStoredQuery executes a named stored query and returns its textual
	// result.
	RunStoredQuery(ctx context.Context, cred, query string, params map[string]string) (string, error)

	// GetNotifyMessages returns the current notification list for cred.
	GetNotifyMessages(ctx context.Context, cred string) (string, error)

	// FireEvent forwards a client-originated event payload.
	FireEvent(ctx context.Context, payload string) error
}
