package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/leapstack/leap-collector/internal/models"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("sender closed")

// LogPoster delivers one log entry to a collector.
type LogPoster interface {
	SendLog(ctx context.Context, entry models.LogEntry) error
}

// SenderConfig tunes the asynchronous delivery queue.
type SenderConfig struct {
	QueueSize       int
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Sender posts log entries from a bounded queue on a background worker.
// Entries are dropped when the queue is full so request handling never blocks.
type Sender struct {
	poster  LogPoster
	logger  *slog.Logger
	cfg     SenderConfig
	queue   chan models.LogEntry
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewSender starts the delivery worker.
func NewSender(poster LogPoster, logger *slog.Logger, cfg SenderConfig) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sender{
		poster: poster,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan models.LogEntry, cfg.QueueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.run()
	return s
}

// Send enqueues entry without blocking. It reports false when the entry was dropped.
func (s *Sender) Send(entry models.LogEntry) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- entry:
		return true
	default:
		s.dropped.Add(1)
		s.logger.Warn("log queue full, dropping entry", slog.String("service", entry.ServiceName), slog.String("endpoint", entry.Endpoint))
		return false
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
// Entries still queued when ctx ends are abandoned.
func (s *Sender) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSenderClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

// Stats returns delivered, dropped and failed counts.
func (s *Sender) Stats() (sent, dropped, failed int64) {
	return s.sent.Load(), s.dropped.Load(), s.failed.Load()
}

func (s *Sender) run() {
	defer close(s.done)
	for entry := range s.queue {
		if s.ctx.Err() != nil {
			s.failed.Add(1)
			continue
		}
		s.deliver(entry)
	}
}

func (s *Sender) deliver(entry models.LogEntry) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxElapsedTime = 0

	op := func() error {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
		defer cancel()
		err := s.poster.SendLog(ctx, entry)
		if models.IsValidation(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), s.ctx))
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("failed to send log to collector",
			slog.String("service", entry.ServiceName),
			slog.String("endpoint", entry.Endpoint),
			slog.Any("error", err),
		)
		return
	}
	s.sent.Add(1)
	if entry.IsRateLimitHit {
		s.logger.Info("rate-limit-hit log sent", slog.String("endpoint", entry.Endpoint))
	}
}
