// Package lease provides short-lived, token-owned locks used to serialise
// incident creation for one (service, endpoint) key across collector processes.
package lease

import (
	"context"
	"time"
)

// Provider is the key/value capability a lease needs: set-if-absent with a
// TTL, and delete-if-still-mine.
type Provider interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	Close() error
}

// NoopProvider grants every lease. It is used when no shared backend is configured.
type NoopProvider struct{}

// SetNX always reports success.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// CompareAndDelete always reports success.
func (NoopProvider) CompareAndDelete(context.Context, string, []byte) (bool, error) {
	return true, nil
}

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
