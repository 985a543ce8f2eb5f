package tracking

import (
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"

	"github.com/leapstack/leap-collector/internal/models"
)

// Sink accepts finished log entries. *Sender is the production sink.
type Sink interface {
	Send(entry models.LogEntry) bool
}

// Middleware reports every request it wraps as a log entry.
type Middleware struct {
	service string
	limiter RateLimiter
	sink    Sink
	logger  *slog.Logger
	clock   clock.Clock
}

// NewMiddleware tracks requests for service. A rate-limited request is marked
// on its log entry and still served.
func NewMiddleware(service string, limiter RateLimiter, sink Sink, logger *slog.Logger, clk clock.Clock) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Middleware{service: service, limiter: limiter, sink: sink, logger: logger, clock: clk}
}

// Wrap instruments next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := m.clock.Now()
		limited := m.limiter != nil && !m.limiter.TryConsume(m.service, 1)
		if limited {
			m.logger.Warn("rate limit hit, request continuing normally", slog.String("service", m.service))
		}

		rec := &recorder{ResponseWriter: w}
		defer func() {
			rcv := recover()
			if rcv != nil {
				m.logger.Error("handler panicked", slog.String("path", r.URL.Path), slog.Any("panic", rcv))
				if !rec.wroteHeader {
					rec.WriteHeader(http.StatusInternalServerError)
				}
				rec.status = http.StatusInternalServerError
			}

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			m.sink.Send(models.LogEntry{
				ServiceName:    m.service,
				Endpoint:       r.URL.Path,
				RequestMethod:  r.Method,
				StatusCode:     rec.statusCode(),
				LatencyMs:      m.clock.Since(start).Milliseconds(),
				RequestSize:    requestSize,
				ResponseSize:   rec.size,
				Timestamp:      start.UTC(),
				IsRateLimitHit: limited,
			})
		}()
		next.ServeHTTP(rec, r)
	})
}

type recorder struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += int64(n)
	return n, err
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
