// Package memory is a process-local Locker.
package memory

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	"github.com/google/uuid"
)

type holder struct {
	token   string
	expires time.Time
}

type Memory struct {
	mu    sync.Mutex
	locks map[string]holder
	now   func() time.Time
}

func New() *Memory {
	return NewWithClock(time.Now)
}

// NewWithClock uses now to expire leases.
func NewWithClock(now func() time.Time) *Memory {
	return &Memory{
		locks: make(map[string]holder),
		now:   now,
	}
}

func (m *Memory) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "Memory Lock", nil
}

func (m *Memory) TryAcquire(_ context.Context, name string, ttl time.Duration) (lock.Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if h, ok := m.locks[name]; ok && now.Before(h.expires) {
		return nil, false, nil
	}

	l := &lease{
		locker: m,
		name:   name,
		token:  uuid.NewString(),
	}

	m.locks[name] = holder{token: l.token, expires: now.Add(ttl)}

	return l, true, nil
}

// Held reports whether name is currently locked, for tests.
func (m *Memory) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.locks[name]

	return ok && m.now().Before(h.expires)
}

func (m *Memory) Close() error {
	return nil
}

type lease struct {
	locker *Memory
	name   string
	token  string
}

func (l *lease) Name() string {
	return l.name
}

func (l *lease) Extend(_ context.Context, ttl time.Duration) error {
	m := l.locker

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	h, ok := m.locks[l.name]
	if !ok || h.token != l.token || !now.Before(h.expires) {
		return errors.NewConflictError("lock %s is no longer held", l.name)
	}

	m.locks[l.name] = holder{token: l.token, expires: now.Add(ttl)}

	return nil
}

func (l *lease) Release(_ context.Context) error {
	m := l.locker

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.locks[l.name]; ok && h.token == l.token {
		delete(m.locks, l.name)
	}

	return nil
}
