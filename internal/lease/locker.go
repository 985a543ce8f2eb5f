package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned when a lease could not be taken within the wait budget.
var ErrTimeout = errors.New("lease wait timed out")

// Locker takes and releases named leases on a Provider.
type Locker struct {
	provider Provider
	prefix   string
	ttl      time.Duration
	wait     time.Duration
	poll     time.Duration
}

// LockerConfig tunes a Locker. Zero values fall back to defaults.
type LockerConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder can block the key.
	TTL time.Duration
	// Wait bounds how long Acquire polls for a held lease.
	Wait time.Duration
	Poll time.Duration
}

// NewLocker returns a Locker on provider. A nil provider grants every lease.
func NewLocker(provider Provider, cfg LockerConfig) *Locker {
	if provider == nil {
		provider = NoopProvider{}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "leap:lease:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 2 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 20 * time.Millisecond
	}
	return &Locker{provider: provider, prefix: cfg.Prefix, ttl: cfg.TTL, wait: cfg.Wait, poll: cfg.Poll}
}

// Release gives a lease back. It is safe to call after the lease expired.
type Release func(ctx context.Context) error

// Acquire blocks until the lease for name is held, ctx is done, or the wait
// budget is exhausted.
func (l *Locker) Acquire(ctx context.Context, name string) (Release, error) {
	key := l.prefix + name
	token := []byte(uuid.NewString())
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.provider.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lease %q: %w", name, err)
		}
		if ok {
			return func(ctx context.Context) error {
				if _, err := l.provider.CompareAndDelete(ctx, key, token); err != nil {
					return fmt.Errorf("release lease %q: %w", name, err)
				}
				return nil
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire lease %q: %w", name, ErrTimeout)
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
