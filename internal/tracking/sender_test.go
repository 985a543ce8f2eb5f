package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/utils"
)

type posterStub struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	got      []models.LogEntry
	block    chan struct{}
}

func (p *posterStub) SendLog(ctx context.Context, entry models.LogEntry) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	if p.failures > 0 {
		p.failures--
		return errors.New("collector unavailable")
	}
	p.got = append(p.got, entry)
	return nil
}

func TestSenderRetriesTransientFailures(t *testing.T) {
	poster := &posterStub{failures: 2}
	s := NewSender(poster, utils.DiscardLogger(), SenderConfig{MaxRetries: 3, InitialInterval: time.Millisecond})
	if !s.Send(models.LogEntry{ServiceName: "orders", Endpoint: "/create"}) {
		t.Fatalf("expected entry to be queued")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	sent, dropped, failed := s.Stats()
	if sent != 1 || dropped != 0 || failed != 0 || poster.calls != 3 {
		t.Fatalf("unexpected stats sent=%d dropped=%d failed=%d calls=%d", sent, dropped, failed, poster.calls)
	}
}

func TestSenderGivesUpAfterMaxRetries(t *testing.T) {
	poster := &posterStub{failures: 10}
	s := NewSender(poster, utils.DiscardLogger(), SenderConfig{MaxRetries: 2, InitialInterval: time.Millisecond})
	s.Send(models.LogEntry{ServiceName: "orders", Endpoint: "/create"})
	_ = s.Close(context.Background())
	if _, _, failed := s.Stats(); failed != 1 || poster.calls != 3 {
		t.Fatalf("expected one failure after 3 attempts, failed=%d calls=%d", failed, poster.calls)
	}
}

func TestSenderDoesNotRetryValidationErrors(t *testing.T) {
	poster := &posterStub{err: &models.ValidationError{Field: "serviceName", Reason: "must not be empty"}}
	s := NewSender(poster, utils.DiscardLogger(), SenderConfig{MaxRetries: 5, InitialInterval: time.Millisecond})
	s.Send(models.LogEntry{Endpoint: "/create"})
	_ = s.Close(context.Background())
	if poster.calls != 1 {
		t.Fatalf("validation errors must not be retried, calls=%d", poster.calls)
	}
}

func TestSenderDropsWhenQueueFull(t *testing.T) {
	poster := &posterStub{block: make(chan struct{})}
	s := NewSender(poster, utils.DiscardLogger(), SenderConfig{QueueSize: 1, InitialInterval: time.Millisecond})

	// The worker takes at most one entry; with a queue of one, a third is dropped.
	accepted := 0
	for i := 0; i < 3; i++ {
		if s.Send(models.LogEntry{ServiceName: "orders", Endpoint: "/create"}) {
			accepted++
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(poster.block)
	_ = s.Close(context.Background())

	_, dropped, _ := s.Stats()
	if accepted != 2 || dropped != 1 {
		t.Fatalf("expected 2 accepted and 1 dropped, got %d and %d", accepted, dropped)
	}
	if s.Send(models.LogEntry{ServiceName: "orders"}) {
		t.Fatalf("closed sender must refuse entries")
	}
	if err := s.Close(context.Background()); !errors.Is(err, ErrSenderClosed) {
		t.Fatalf("expected ErrSenderClosed, got %v", err)
	}
}

func TestSenderCloseHonoursContext(t *testing.T) {
	poster := &posterStub{block: make(chan struct{})}
	s := NewSender(poster, utils.DiscardLogger(), SenderConfig{Timeout: time.Minute, InitialInterval: time.Millisecond})
	s.Send(models.LogEntry{ServiceName: "orders", Endpoint: "/create"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
