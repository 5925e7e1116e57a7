package backend

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Backend. Snapshots and failures can be changed at
// any time, which makes it suitable for tests and for running the gateway
// without a real backend.
type Memory struct {
	mu sync.RWMutex

	principals map[string]string
	table      map[string]string
	list       map[string]string
	tableErr   error
	listErr    error
	fireErr    error

	fired      []string
	queries    []StoredQueryCall
	validateN  map[string]int
	defaultTab string
	defaultLst string
}

// StoredQueryCall records one RunStoredQuery invocation.
type StoredQueryCall struct {
	Credential string
	Query      string
	Params     map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		principals: make(map[string]string),
		table:      make(map[string]string),
		list:       make(map[string]string),
		validateN:  make(map[string]int),
	}
}

// AddCredential makes cred valid for principal.
func (m *Memory) AddCredential(cred, principal string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[cred] = principal
	return m
}

// RevokeCredential makes cred invalid.
func (m *Memory) RevokeCredential(cred string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.principals, cred)
}

// SetTable sets the stored-query result for cred. An empty cred sets the
// result returned for credentials without their own value.
func (m *Memory) SetTable(cred, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred == "" {
		m.defaultTab = text
		return
	}
	m.table[cred] = text
}

// SetList sets the notification list for cred, with the same default rule
// as SetTable.
func (m *Memory) SetList(cred, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred == "" {
		m.defaultLst = text
		return
	}
	m.list[cred] = text
}

// FailTable makes RunStoredQuery return err until cleared with nil.
func (m *Memory) FailTable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tableErr = err
}

// FailList makes GetNotifyMessages return err until cleared with nil.
func (m *Memory) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailFire makes FireEvent return err until cleared with nil.
func (m *Memory) FailFire(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fireErr = err
}

// Fired returns the payloads passed to FireEvent so far.
func (m *Memory) Fired() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.fired))
	copy(out, m.fired)
	return out
}

// Queries returns the RunStoredQuery calls made so far.
func (m *Memory) Queries() []StoredQueryCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StoredQueryCall, len(m.queries))
	copy(out, m.queries)
	return out
}

// Validations returns how many times cred was validated.
func (m *Memory) Validations(cred string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validateN[cred]
}

func (m *Memory) ValidateCredential(ctx context.Context, cred string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateN[cred]++
	principal, ok := m.principals[cred]
	if !ok {
		return "", fmt.Errorf("%w: unknown credential", ErrCredential)
	}
	return principal, nil
}

func (m *Memory) RunStoredQuery(ctx context.Context, cred, query string, params map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	m.queries = append(m.queries, StoredQueryCall{Credential: cred, Query: query, Params: copied})

	if err := m.check(cred, m.tableErr); err != nil {
		return "", err
	}
	if text, ok := m.table[cred]; ok {
		return text, nil
	}
	return m.defaultTab, nil
}

func (m *Memory) GetNotifyMessages(ctx context.Context, cred string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(cred, m.listErr); err != nil {
		return "", err
	}
	if text, ok := m.list[cred]; ok {
		return text, nil
	}
	return m.defaultLst, nil
}

func (m *Memory) FireEvent(ctx context.Context, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fireErr != nil {
		return fmt.Errorf("%w: %w", ErrBackend, m.fireErr)
	}
	m.fired = append(m.fired, payload)
	return nil
}

// check must be called with mu held.
func (m *Memory) check(cred string, injected error) error {
	if _, ok := m.principals[cred]; !ok {
		return fmt.Errorf("%w: unknown credential", ErrCredential)
	}
	if injected != nil {
		return fmt.Errorf("%w: %w", ErrBackend, injected)
	}
	return nil
}
