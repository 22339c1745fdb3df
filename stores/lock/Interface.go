// Package lock provides named, leased mutual exclusion shared between server instances.
package lock

import (
	"context"
	"time"
)

// Lease is a held lock. It expires on its own after its ttl unless extended.
type Lease interface {
	Name() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	// TryAcquire returns ok=false without error when another holder owns the lock.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
	Close() error
}

// NamespaceKey is the name of the GC lease of a namespace.
func NamespaceKey(namespaceID string) string {
	return "storage:" + namespaceID + ":lock"
}

// TickerKey is the name of the lock elected by a shared ticker.
func TickerKey(ticker string) string {
	return "storage:ticker:" + ticker
}
