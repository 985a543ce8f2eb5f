package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"pgregory.net/rapid"

	"github.com/leapstack/leap-collector/internal/lease"
	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/store"
	"github.com/leapstack/leap-collector/internal/utils"
)

// slowFindStore widens the window between FindOpen and CreateIncident so
// concurrent writers all observe "no open incident".
type slowFindStore struct {
	store.IncidentStore
	delay time.Duration
}

func (s *slowFindStore) FindOpen(ctx context.Context, key models.DedupKey) ([]models.Incident, error) {
	found, err := s.IncidentStore.FindOpen(ctx, key)
	time.Sleep(s.delay)
	return found, err
}

// brokenStore fails every read.
type brokenStore struct {
	store.IncidentStore
}

func (brokenStore) FindOpen(context.Context, models.DedupKey) ([]models.Incident, error) {
	return nil, models.ErrStoreUnavailable
}

func errorViolation(service, endpoint string, code int) models.Violation {
	return models.Violation{
		ServiceName: service,
		Endpoint:    endpoint,
		Severity:    models.SeverityError,
		Description: fmt.Sprintf("Server Error: Status code %d indicates a broken API.", code),
	}
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	mem := store.NewMemory()
	eval := NewEvaluator(defaultThresholds, nil)
	dedup := NewDeduplicator(mem, utils.DiscardLogger(), WithClock(mock))
	resolver := NewResolver(mem, utils.DiscardLogger(), WithResolveClock(mock))

	// A: healthy traffic raises nothing.
	if _, ok := eval.Evaluate(models.LogEntry{ServiceName: "auth", Endpoint: "/login", StatusCode: 200, LatencyMs: 50}); ok {
		t.Fatalf("scenario A: expected no violation")
	}

	// B: a 503 opens an ERROR incident.
	v, ok := eval.Evaluate(models.LogEntry{ServiceName: "auth", Endpoint: "/login", StatusCode: 503, LatencyMs: 50})
	if !ok || v.Severity != models.SeverityError || v.Description != "Server Error: Status code 503 indicates a broken API." {
		t.Fatalf("scenario B: unexpected violation %+v ok=%v", v, ok)
	}
	first, err := dedup.CreateOrUpdate(ctx, v)
	if err != nil {
		t.Fatalf("scenario B: %v", err)
	}
	if !first.Created || first.Incident.Status != models.IncidentOpen || first.Incident.Version != 0 {
		t.Fatalf("scenario B: unexpected outcome %+v", first)
	}
	if !first.Incident.OccurredAt.Equal(mock.Now()) {
		t.Fatalf("scenario B: occurredAt %v, want %v", first.Incident.OccurredAt, mock.Now())
	}

	// C: a second error for the same key is suppressed.
	mock.Add(time.Second)
	v, _ = eval.Evaluate(models.LogEntry{ServiceName: "auth", Endpoint: "/login", StatusCode: 500, LatencyMs: 50})
	second, err := dedup.CreateOrUpdate(ctx, v)
	if err != nil {
		t.Fatalf("scenario C: %v", err)
	}
	if second.Created || second.Incident.ID != first.Incident.ID {
		t.Fatalf("scenario C: expected suppression onto %s, got %+v", first.Incident.ID, second)
	}
	if second.Incident.Description != first.Incident.Description {
		t.Fatalf("scenario C: open incident must not be modified")
	}

	// D: resolve once, then AlreadyResolved.
	mock.Add(time.Minute)
	resolved, err := resolver.Resolve(ctx, first.Incident.ID, "alice")
	if err != nil {
		t.Fatalf("scenario D: %v", err)
	}
	if resolved.Status != models.IncidentResolved || *resolved.ResolvedBy != "alice" || resolved.Version != 1 {
		t.Fatalf("scenario D: unexpected incident %+v", resolved)
	}
	if !resolved.ResolvedAt.Equal(mock.Now()) {
		t.Fatalf("scenario D: resolvedAt %v, want %v", resolved.ResolvedAt, mock.Now())
	}
	if _, err := resolver.Resolve(ctx, first.Incident.ID, "alice"); !errors.Is(err, models.ErrAlreadyResolved) {
		t.Fatalf("scenario D: expected already resolved, got %v", err)
	}

	// After resolution the key is free again.
	again, err := dedup.CreateOrUpdate(ctx, v)
	if err != nil || !again.Created || again.Incident.ID == first.Incident.ID {
		t.Fatalf("expected a fresh incident after resolution, got %+v %v", again, err)
	}
}

func TestDeduplicatorDistinctKeys(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	dedup := NewDeduplicator(mem, utils.DiscardLogger())

	for _, endpoint := range []string{"/a", "/b"} {
		out, err := dedup.CreateOrUpdate(ctx, errorViolation("svc", endpoint, 500))
		if err != nil || !out.Created {
			t.Fatalf("expected creation for %s, got %+v %v", endpoint, out, err)
		}
	}
	open, _ := mem.ListIncidents(ctx, models.IncidentOpen)
	if len(open) != 2 {
		t.Fatalf("expected two open incidents, got %d", len(open))
	}
}

func TestDeduplicatorConcurrentViolations(t *testing.T) {
	for _, singleWriter := range []bool{true, false} {
		t.Run(fmt.Sprintf("singleWriter=%v", singleWriter), func(t *testing.T) {
			ctx := context.Background()
			mem := store.NewMemory()
			dedup := NewDeduplicator(&slowFindStore{IncidentStore: mem, delay: 2 * time.Millisecond},
				utils.DiscardLogger(), WithSingleWriter(singleWriter))

			const writers = 16
			var wg sync.WaitGroup
			results := make(chan Outcome, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					out, err := dedup.CreateOrUpdate(ctx, errorViolation("payments", "/charge", 500+i%4))
					if err != nil {
						t.Errorf("writer %d: %v", i, err)
						return
					}
					results <- out
				}(i)
			}
			wg.Wait()
			close(results)

			created := 0
			ids := map[string]bool{}
			for out := range results {
				if out.Created {
					created++
				}
				ids[out.Incident.ID] = true
			}
			if created != 1 || len(ids) != 1 {
				t.Fatalf("expected exactly one incident, created=%d ids=%v", created, ids)
			}
			open, _ := mem.FindOpen(ctx, models.DedupKey{ServiceName: "payments", Endpoint: "/charge"})
			if len(open) != 1 {
				t.Fatalf("expected one open incident, got %d", len(open))
			}
		})
	}
}

// memProvider is a process-local lease.Provider shared by several deduplicators.
type memProvider struct {
	mu   sync.Mutex
	held map[string]string
}

func (m *memProvider) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = string(value)
	return true, nil
}

func (m *memProvider) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] != string(value) {
		return false, nil
	}
	delete(m.held, key)
	return true, nil
}

func (m *memProvider) Close() error { return nil }

func TestDeduplicatorLeaseAcrossWriters(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	provider := &memProvider{held: map[string]string{}}
	slow := &slowFindStore{IncidentStore: mem, delay: time.Millisecond}

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 6; i++ {
		// Each deduplicator stands in for a separate collector replica.
		locker := lease.NewLocker(provider, lease.LockerConfig{Wait: 2 * time.Second, Poll: time.Millisecond})
		dedup := NewDeduplicator(slow, utils.DiscardLogger(), WithSingleWriter(false), WithLease(locker))
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := dedup.CreateOrUpdate(ctx, errorViolation("search", "/q", 502))
			if err != nil {
				t.Errorf("dedup: %v", err)
				return
			}
			if out.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected one creation, got %d", created)
	}
	if len(provider.held) != 0 {
		t.Fatalf("expected all leases released, %d held", len(provider.held))
	}
}

func TestDeduplicatorStoreFailure(t *testing.T) {
	dedup := NewDeduplicator(brokenStore{}, utils.DiscardLogger())
	_, err := dedup.CreateOrUpdate(context.Background(), errorViolation("svc", "/x", 500))
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestDeduplicatorCanceledContext(t *testing.T) {
	mem := store.NewMemory()
	dedup := NewDeduplicator(mem, utils.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dedup.CreateOrUpdate(ctx, errorViolation("svc", "/x", 500)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestAtMostOneOpenIncidentPerKey(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		mem := store.NewMemory()
		dedup := NewDeduplicator(mem, utils.DiscardLogger())
		resolver := NewResolver(mem, utils.DiscardLogger())
		services := []string{"auth", "orders"}
		endpoints := []string{"/a", "/b", "/c"}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			service := rapid.SampledFrom(services).Draw(t, "service")
			endpoint := rapid.SampledFrom(endpoints).Draw(t, "endpoint")
			if rapid.Bool().Draw(t, "resolve") {
				open, err := mem.FindOpen(ctx, models.DedupKey{ServiceName: service, Endpoint: endpoint})
				if err != nil {
					t.Fatalf("find: %v", err)
				}
				for _, inc := range open {
					if _, err := resolver.Resolve(ctx, inc.ID, "prop"); err != nil {
						t.Fatalf("resolve: %v", err)
					}
				}
				continue
			}
			if _, err := dedup.CreateOrUpdate(ctx, errorViolation(service, endpoint, 500)); err != nil {
				t.Fatalf("dedup: %v", err)
			}
		}

		all, err := mem.ListIncidents(ctx, models.IncidentOpen)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		seen := map[models.DedupKey]bool{}
		for _, inc := range all {
			if seen[inc.Key()] {
				t.Fatalf("two open incidents for %v", inc.Key())
			}
			seen[inc.Key()] = true
		}
	})
}

func TestDeduplicatorLeaseNamesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	provider := &memProvider{held: map[string]string{}}
	locker := lease.NewLocker(provider, lease.LockerConfig{Wait: 20 * time.Millisecond, Poll: time.Millisecond})

	held := models.DedupKey{ServiceName: "a|b", Endpoint: "c"}
	release, err := locker.Acquire(ctx, held.String())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = release(ctx) }()

	dedup := NewDeduplicator(store.NewMemory(), utils.DiscardLogger(), WithLease(locker))
	out, err := dedup.CreateOrUpdate(ctx, errorViolation("a", "b|c", 500))
	if err != nil {
		t.Fatalf("a lease on %q must not block %q: %v", held, "a/b|c", err)
	}
	if !out.Created {
		t.Fatalf("expected a new incident")
	}
}
