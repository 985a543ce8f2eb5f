package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/leapstack/leap-collector/internal/alerting"
	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/store"
	"github.com/leapstack/leap-collector/internal/utils"
)

func newTestService(t *testing.T) (*CollectorService, *store.Memory, *clock.Mock) {
	t.Helper()
	mem := store.NewMemory()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	logger := utils.DiscardLogger()
	svc := NewCollectorService(logger, mem,
		alerting.NewEvaluator(alerting.Thresholds{LatencyThresholdMs: 500, ErrorStatusMin: 500}, nil),
		alerting.NewDeduplicator(mem, logger, alerting.WithClock(mock)),
		alerting.NewResolver(mem, logger, alerting.WithResolveClock(mock)),
		WithClock(mock),
	)
	return svc, mem, mock
}

func TestIngestLogRejectsInvalidEntries(t *testing.T) {
	svc, mem, _ := newTestService(t)
	cases := []models.LogEntry{
		{Endpoint: "/x"},
		{ServiceName: "svc"},
		{ServiceName: "svc", Endpoint: "/x", LatencyMs: -1},
		{ServiceName: "svc", Endpoint: "/x", RequestSize: -1},
		{ServiceName: "svc", Endpoint: "/x", ResponseSize: -1},
	}
	for _, entry := range cases {
		if _, err := svc.IngestLog(context.Background(), entry); !models.IsValidation(err) {
			t.Fatalf("expected validation error for %+v, got %v", entry, err)
		}
	}
	logs, _ := mem.ListLogs(context.Background(), models.LogFilter{})
	if len(logs) != 0 {
		t.Fatalf("rejected entries must not be stored, got %d", len(logs))
	}
}

func TestIngestLogDefaultsTimestampAndPersists(t *testing.T) {
	svc, mem, mock := newTestService(t)
	res, err := svc.IngestLog(context.Background(), models.LogEntry{ServiceName: "auth", Endpoint: "/login", StatusCode: 200, LatencyMs: 40})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Violation != nil || res.Incident != nil {
		t.Fatalf("healthy entry must not raise, got %+v", res)
	}
	if !res.Entry.Timestamp.Equal(mock.Now()) || res.Entry.ID == "" {
		t.Fatalf("unexpected stored entry %+v", res.Entry)
	}
	logs, _ := mem.ListLogs(context.Background(), models.LogFilter{})
	if diff := cmp.Diff([]models.LogEntry{res.Entry}, logs); diff != "" {
		t.Fatalf("stored logs mismatch (-want +got):\n%s", diff)
	}
}

func TestIngestLogOpensAndSuppresses(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.IngestLog(ctx, models.LogEntry{ServiceName: "auth", Endpoint: "/login", StatusCode: 503, LatencyMs: 50})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !first.Created || first.Incident.Severity != models.SeverityError {
		t.Fatalf("expected new ERROR incident, got %+v", first)
	}

	second, err := svc.IngestLog(ctx, models.LogEntry{ServiceName: "auth", Endpoint: "/login", StatusCode: 200, LatencyMs: 900})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if second.Created || second.Incident.ID != first.Incident.ID || second.Violation.Severity != models.SeveritySlow {
		t.Fatalf("expected suppressed SLOW violation, got %+v", second)
	}

	open, err := svc.ListOpenIncidents(ctx)
	if err != nil || len(open) != 1 || open[0].Severity != models.SeverityError {
		t.Fatalf("expected the original incident only, got %+v %v", open, err)
	}

	resolved, err := svc.ResolveIncident(ctx, first.Incident.ID, "alice")
	if err != nil || resolved.Status != models.IncidentResolved {
		t.Fatalf("resolve: %+v %v", resolved, err)
	}
	open, _ = svc.ListOpenIncidents(ctx)
	if len(open) != 0 {
		t.Fatalf("expected no open incidents, got %d", len(open))
	}
}

func TestIngestLogStoreUnavailable(t *testing.T) {
	svc, mem, _ := newTestService(t)
	_ = mem.Close()
	_, err := svc.IngestLog(context.Background(), models.LogEntry{ServiceName: "auth", Endpoint: "/login"})
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

// failingIncidents rejects every incident lookup.
type failingIncidents struct {
	store.IncidentStore
}

func (failingIncidents) FindOpen(context.Context, models.DedupKey) ([]models.Incident, error) {
	return nil, models.ErrStoreUnavailable
}

func TestIngestLogKeepsEntryWhenAlertingFails(t *testing.T) {
	mem := store.NewMemory()
	logger := utils.DiscardLogger()
	broken := failingIncidents{IncidentStore: mem}
	svc := NewCollectorService(logger, mem,
		alerting.NewEvaluator(alerting.Thresholds{LatencyThresholdMs: 500, ErrorStatusMin: 500}, nil),
		alerting.NewDeduplicator(broken, logger),
		alerting.NewResolver(mem, logger),
	)
	ctx := context.Background()

	_, err := svc.IngestLog(ctx, models.LogEntry{ServiceName: "auth", Endpoint: "/login", StatusCode: 503})
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	logs, _ := mem.ListLogs(ctx, models.LogFilter{})
	if len(logs) != 1 || logs[0].StatusCode != 503 {
		t.Fatalf("entry stored before alerting must be kept, got %+v", logs)
	}
	open, _ := mem.ListIncidents(ctx, models.IncidentOpen)
	if len(open) != 0 {
		t.Fatalf("expected no incidents, got %+v", open)
	}
}

func TestListLogsFilterAndLimit(t *testing.T) {
	svc, _, mock := newTestService(t)
	ctx := context.Background()
	for i, endpoint := range []string{"/a", "/b", "/a", "/a"} {
		mock.Add(time.Second)
		if _, err := svc.IngestLog(ctx, models.LogEntry{ServiceName: "orders", Endpoint: endpoint, StatusCode: 200, LatencyMs: int64(i)}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	logs, err := svc.ListLogs(ctx, models.LogFilter{ServiceName: "orders", Endpoint: "/a", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 || logs[0].LatencyMs != 3 || logs[1].LatencyMs != 2 {
		t.Fatalf("expected newest two /a entries, got %+v", logs)
	}
	if _, err := svc.ListLogs(ctx, models.LogFilter{Limit: -1}); !models.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStats(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	entries := []models.LogEntry{
		{ServiceName: "orders", Endpoint: "/a", StatusCode: 200, LatencyMs: 100},
		{ServiceName: "orders", Endpoint: "/a", StatusCode: 500, LatencyMs: 300},
		{ServiceName: "orders", Endpoint: "/b", StatusCode: 429, LatencyMs: 200, IsRateLimitHit: true},
		{ServiceName: "auth", Endpoint: "/login", StatusCode: 200, LatencyMs: 10},
	}
	for _, e := range entries {
		if _, err := svc.IngestLog(ctx, e); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := []models.ServiceStats{
		{ServiceName: "auth", Requests: 1, AvgLatencyMs: 10, P95LatencyMs: 10},
		{ServiceName: "orders", Requests: 3, Errors: 1, RateLimitHits: 1, AvgLatencyMs: 200, P95LatencyMs: 200},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}
