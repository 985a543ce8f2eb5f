package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/leapstack/leap-collector/internal/metrics"
	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/store"
	"github.com/leapstack/leap-collector/internal/utils"
)

// Resolver moves OPEN incidents to RESOLVED with a compare-and-swap write.
type Resolver struct {
	store  store.IncidentStore
	logger *slog.Logger
	clock  clock.Clock
	retry  bool
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithResolveClock sets the clock used for resolvedAt.
func WithResolveClock(c clock.Clock) ResolverOption {
	return func(r *Resolver) { r.clock = c }
}

// WithConflictRetry makes Resolve re-read and re-attempt once after a
// version conflict before reporting ErrConcurrentModification.
func WithConflictRetry(enabled bool) ResolverOption {
	return func(r *Resolver) { r.retry = enabled }
}

// NewResolver builds a Resolver. Conflicts are retried once by default.
func NewResolver(incidents store.IncidentStore, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{store: incidents, logger: logger, clock: clock.New(), retry: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve marks incidentID resolved by userID and returns the stored record.
//
// Errors: *models.ValidationError for empty arguments, models.ErrNotFound,
// models.ErrAlreadyResolved, models.ErrConcurrentModification, and store
// failures (models.ErrStoreUnavailable) as returned by the store.
func (r *Resolver) Resolve(ctx context.Context, incidentID, userID string) (models.Incident, error) {
	if strings.TrimSpace(incidentID) == "" {
		return models.Incident{}, &models.ValidationError{Field: "incidentId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(userID) == "" {
		return models.Incident{}, &models.ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	attempts := 1
	if r.retry {
		attempts = 2
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var resolved models.Incident
		resolved, err = r.resolveOnce(ctx, incidentID, userID)
		if err == nil {
			metrics.ObserveResolution(metrics.ResolutionResolved)
			r.logger.Info("incident resolved",
				slog.String("incident_id", resolved.ID),
				slog.String("resolved_by", userID),
				slog.Time("resolved_at", *resolved.ResolvedAt),
				slog.Int64("version", resolved.Version),
			)
			return resolved, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			break
		}
		r.logger.Info("resolve lost a version race", slog.String("incident_id", incidentID), slog.Int("attempt", attempt))
	}

	if errors.Is(err, store.ErrVersionConflict) {
		err = fmt.Errorf("%w: %w", models.ErrConcurrentModification, err)
	}
	metrics.ObserveResolution(resolutionOutcome(err))
	return models.Incident{}, utils.NewAppError("resolve incident", incidentID, err)
}

func (r *Resolver) resolveOnce(ctx context.Context, incidentID, userID string) (models.Incident, error) {
	incident, err := r.store.GetIncident(ctx, incidentID)
	if err != nil {
		return models.Incident{}, err
	}
	if !incident.IsOpen() {
		return models.Incident{}, models.ErrAlreadyResolved
	}

	now := r.clock.Now().UTC()
	by := userID
	incident.Status = models.IncidentResolved
	incident.ResolvedBy = &by
	incident.ResolvedAt = &now
	return r.store.UpdateIncident(ctx, incident)
}

func resolutionOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return metrics.ResolutionNotFound
	case errors.Is(err, models.ErrAlreadyResolved):
		return metrics.ResolutionAlreadyResolved
	case errors.Is(err, models.ErrConcurrentModification):
		return metrics.ResolutionConflict
	default:
		return metrics.ResolutionError
	}
}
