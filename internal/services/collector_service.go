package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/leapstack/leap-collector/internal/alerting"
	"github.com/leapstack/leap-collector/internal/metrics"
	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/store"
	"github.com/leapstack/leap-collector/internal/utils"
)

// IngestResult reports what ingestion did with one log entry.
type IngestResult struct {
	Entry     models.LogEntry
	Violation *models.Violation
	Incident  *models.Incident
	// Created is true when the violation opened a new incident.
	Created bool
}

// CollectorService is the facade shared by the REST and gRPC transports.
type CollectorService struct {
	logger    *slog.Logger
	logs      store.LogStore
	incidents store.IncidentStore
	evaluator *alerting.Evaluator
	dedup     *alerting.Deduplicator
	resolver  *alerting.Resolver
	clock     clock.Clock
	stats     *statsTracker
}

// Option customises a CollectorService.
type Option func(*CollectorService)

// WithClock sets the clock used to stamp entries that arrive without a timestamp.
func WithClock(c clock.Clock) Option {
	return func(s *CollectorService) { s.clock = c }
}

// NewCollectorService wires the alerting components onto st.
func NewCollectorService(logger *slog.Logger, st store.Store, evaluator *alerting.Evaluator, dedup *alerting.Deduplicator, resolver *alerting.Resolver, opts ...Option) *CollectorService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CollectorService{
		logger:    logger,
		logs:      st,
		incidents: st,
		evaluator: evaluator,
		dedup:     dedup,
		resolver:  resolver,
		clock:     clock.New(),
		stats:     newStatsTracker(1024),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestLog validates, persists and evaluates entry. A violation that is
// absorbed by an open incident is still a successful ingestion.
//
// The entry is stored before alerting runs. If deduplication then fails
// (store error, canceled ctx while waiting on the key lock) the error is
// returned but the stored entry is kept; a retry appends it again.
func (s *CollectorService) IngestLog(ctx context.Context, entry models.LogEntry) (IngestResult, error) {
	start := time.Now()
	if err := entry.Validate(); err != nil {
		metrics.ObserveIngest(time.Since(start), metrics.OutcomeRejected)
		return IngestResult{}, err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock.Now().UTC()
	}

	stored, err := s.logs.AppendLog(ctx, entry)
	if err != nil {
		metrics.ObserveIngest(time.Since(start), metrics.OutcomeError)
		s.logger.Error("persist log entry failed", slog.String("service", entry.ServiceName), slog.Any("error", err))
		return IngestResult{}, utils.NewAppError("append log", entry.ServiceName, err)
	}

	limits := s.evaluator.ThresholdsFor(stored.ServiceName, stored.Endpoint)
	s.stats.observe(stored, limits.ErrorStatusMin)
	s.logger.Debug("log entry received",
		slog.String("service", stored.ServiceName),
		slog.String("endpoint", stored.Endpoint),
		slog.Int("status", stored.StatusCode),
		slog.Int64("latency_ms", stored.LatencyMs),
	)

	result := IngestResult{Entry: stored}
	violation, ok := s.evaluator.Evaluate(stored)
	if !ok {
		metrics.ObserveIngest(time.Since(start), metrics.OutcomeAccepted)
		return result, nil
	}
	metrics.ObserveViolation(violation.Severity)
	result.Violation = &violation

	outcome, err := s.dedup.CreateOrUpdate(ctx, violation)
	if err != nil {
		metrics.ObserveIngest(time.Since(start), metrics.OutcomeError)
		s.logger.Error("incident deduplication failed", slog.String("service", violation.ServiceName), slog.Any("error", err))
		return IngestResult{}, err
	}
	result.Incident = &outcome.Incident
	result.Created = outcome.Created
	metrics.ObserveIngest(time.Since(start), metrics.OutcomeAccepted)
	return result, nil
}

// ListLogs returns stored entries matching filter, newest first.
func (s *CollectorService) ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	if filter.Limit < 0 {
		return nil, &models.ValidationError{Field: "limit", Reason: "must be >= 0"}
	}
	logs, err := s.logs.ListLogs(ctx, filter)
	if err != nil {
		return nil, utils.NewAppError("list logs", filter.ServiceName, err)
	}
	return logs, nil
}

// ListOpenIncidents returns every OPEN incident ordered by occurrence.
func (s *CollectorService) ListOpenIncidents(ctx context.Context) ([]models.Incident, error) {
	incidents, err := s.incidents.ListIncidents(ctx, models.IncidentOpen)
	if err != nil {
		return nil, utils.NewAppError("list incidents", string(models.IncidentOpen), err)
	}
	return incidents, nil
}

// ResolveIncident closes incidentID on behalf of userID.
func (s *CollectorService) ResolveIncident(ctx context.Context, incidentID, userID string) (models.Incident, error) {
	return s.resolver.Resolve(ctx, incidentID, userID)
}

// Stats summarises traffic per service since start-up.
func (s *CollectorService) Stats(ctx context.Context) ([]models.ServiceStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.stats.snapshot(), nil
}

// statsTracker keeps per-service counters next to a latency window.
type statsTracker struct {
	mu        sync.Mutex
	counters  map[string]*serviceCounters
	latencies *utils.LatencyTracker
}

type serviceCounters struct {
	requests      int64
	errors        int64
	rateLimitHits int64
}

func newStatsTracker(window int) *statsTracker {
	return &statsTracker{
		counters:  make(map[string]*serviceCounters),
		latencies: utils.NewLatencyTracker(window),
	}
}

func (t *statsTracker) observe(entry models.LogEntry, errorStatusMin int) {
	t.mu.Lock()
	c, ok := t.counters[entry.ServiceName]
	if !ok {
		c = &serviceCounters{}
		t.counters[entry.ServiceName] = c
	}
	c.requests++
	if entry.StatusCode >= errorStatusMin {
		c.errors++
	}
	if entry.IsRateLimitHit {
		c.rateLimitHits++
	}
	t.mu.Unlock()
	t.latencies.Observe(entry.ServiceName, entry.LatencyMs)
}

func (t *statsTracker) snapshot() []models.ServiceStats {
	t.mu.Lock()
	out := make([]models.ServiceStats, 0, len(t.counters))
	for name, c := range t.counters {
		out = append(out, models.ServiceStats{
			ServiceName:   name,
			Requests:      c.requests,
			Errors:        c.errors,
			RateLimitHits: c.rateLimitHits,
		})
	}
	t.mu.Unlock()

	for i := range out {
		out[i].AvgLatencyMs = t.latencies.Mean(out[i].ServiceName)
		out[i].P95LatencyMs = t.latencies.Percentile(out[i].ServiceName, 95)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out
}
