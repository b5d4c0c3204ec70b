// Package credential persists the single bearer token of an installation.
package credential

import (
	"context"
	"errors"
	"sync"
)

// Key is the fixed identifier the token is stored under.
const Key = "fireshield.jwt"

// ErrBackendUnavailable marks failures of the underlying secure storage, as
// opposed to the absence of a credential.
var ErrBackendUnavailable = errors.New("credential backend unavailable")

// Store holds at most one bearer token. Clear on an empty store is a no-op.
type Store interface {
	Set(ctx context.Context, token string) error
	Get(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) error
}

// Memory keeps the token for the lifetime of the process.
type Memory struct {
	mu    sync.RWMutex
	token string
	set   bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Set(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.set = true
	return nil
}

func (m *Memory) Get(_ context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.set, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.set = false
	return nil
}
