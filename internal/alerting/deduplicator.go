package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/leapstack/leap-collector/internal/lease"
	"github.com/leapstack/leap-collector/internal/metrics"
	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/store"
	"github.com/leapstack/leap-collector/internal/utils"
)

// createAttempts bounds the find/create loop when the store reports a
// conflicting open incident that is gone again by the time it is re-read.
const createAttempts = 3

// Outcome reports what CreateOrUpdate did with a violation.
type Outcome struct {
	Incident models.Incident
	// Created is false when an already open incident absorbed the violation.
	Created bool
}

// Deduplicator maintains at most one OPEN incident per (service, endpoint).
//
// The store's unique-open constraint is the guarantee of record. On top of
// it, an in-process keyed mutex (single-writer mode) and an optional shared
// lease keep concurrent violations for one key from racing into the store.
type Deduplicator struct {
	store  store.IncidentStore
	logger *slog.Logger
	clock  clock.Clock
	newID  func() string
	locks  *keyedMutex
	lease  *lease.Locker
}

// DeduplicatorOption customises a Deduplicator.
type DeduplicatorOption func(*Deduplicator)

// WithClock sets the clock used for occurredAt.
func WithClock(c clock.Clock) DeduplicatorOption {
	return func(d *Deduplicator) { d.clock = c }
}

// WithIDGenerator overrides incident id generation.
func WithIDGenerator(fn func() string) DeduplicatorOption {
	return func(d *Deduplicator) { d.newID = fn }
}

// WithSingleWriter toggles the in-process per-key critical section.
func WithSingleWriter(enabled bool) DeduplicatorOption {
	return func(d *Deduplicator) {
		if enabled {
			d.locks = newKeyedMutex()
		} else {
			d.locks = nil
		}
	}
}

// WithLease serialises creation across processes through l.
func WithLease(l *lease.Locker) DeduplicatorOption {
	return func(d *Deduplicator) { d.lease = l }
}

// NewDeduplicator builds a Deduplicator in single-writer mode.
func NewDeduplicator(incidents store.IncidentStore, logger *slog.Logger, opts ...DeduplicatorOption) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deduplicator{
		store:  incidents,
		logger: logger,
		clock:  clock.New(),
		newID:  uuid.NewString,
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateOrUpdate opens an incident for the violation's key unless one is
// already open, in which case the violation is logged as a suppressed
// duplicate and the open incident is left untouched.
func (d *Deduplicator) CreateOrUpdate(ctx context.Context, v models.Violation) (Outcome, error) {
	key := v.Key()
	subject := fmt.Sprintf("%s %s", v.ServiceName, v.Endpoint)

	if d.locks != nil {
		unlock, err := d.locks.Lock(ctx, key.String())
		if err != nil {
			return Outcome{}, utils.NewAppError("lock incident key", subject, err)
		}
		defer unlock()
	}
	if d.lease != nil {
		release, err := d.lease.Acquire(ctx, key.String())
		if err != nil {
			return Outcome{}, utils.NewAppError("lease incident key", subject, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("lease release failed", slog.String("service", v.ServiceName), slog.String("endpoint", v.Endpoint), slog.Any("error", err))
			}
		}()
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		existing, err := d.store.FindOpen(ctx, key)
		if err != nil {
			return Outcome{}, utils.NewAppError("find open incident", subject, err)
		}
		if len(existing) > 0 {
			return d.suppress(v, existing[0]), nil
		}

		created, err := d.store.CreateIncident(ctx, models.Incident{
			ID:          d.newID(),
			ServiceName: v.ServiceName,
			Endpoint:    v.Endpoint,
			Severity:    v.Severity,
			Description: v.Description,
			OccurredAt:  d.clock.Now().UTC(),
			Status:      models.IncidentOpen,
			Version:     0,
		})
		if errors.Is(err, store.ErrOpenIncidentExists) {
			// Another writer won between our read and write; re-read its incident.
			continue
		}
		if err != nil {
			return Outcome{}, utils.NewAppError("create incident", subject, err)
		}

		metrics.ObserveIncidentOpened(created.Severity)
		d.logger.Warn("ALERT GENERATED: new incident opened",
			slog.String("incident_id", created.ID),
			slog.String("severity", string(created.Severity)),
			slog.String("service", created.ServiceName),
			slog.String("endpoint", created.Endpoint),
			slog.String("description", created.Description),
		)
		return Outcome{Incident: created, Created: true}, nil
	}
	return Outcome{}, utils.NewAppError("create incident", subject, errors.New("open incident kept changing under concurrent writers"))
}

func (d *Deduplicator) suppress(v models.Violation, open models.Incident) Outcome {
	metrics.ObserveDuplicateSuppressed(v.Severity)
	d.logger.Info("existing incident still open, not creating duplicate",
		slog.String("incident_id", open.ID),
		slog.String("open_severity", string(open.Severity)),
		slog.String("violation_severity", string(v.Severity)),
		slog.String("service", v.ServiceName),
		slog.String("endpoint", v.Endpoint),
	)
	return Outcome{Incident: open, Created: false}
}
