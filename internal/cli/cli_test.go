package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack/leap-collector/internal/models"
)

type collectorMock struct {
	sent      []models.LogEntry
	filter    models.LogFilter
	incidents []models.Incident
	logs      []models.LogEntry
	stats     []models.ServiceStats
	resolveFn func(id, user string) (models.Incident, error)
	err       error
}

func (m *collectorMock) SendLog(_ context.Context, entry models.LogEntry) error {
	m.sent = append(m.sent, entry)
	return m.err
}

func (m *collectorMock) ListLogs(_ context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	m.filter = filter
	return m.logs, m.err
}

func (m *collectorMock) ListOpenIncidents(context.Context) ([]models.Incident, error) {
	return m.incidents, m.err
}

func (m *collectorMock) ResolveIncident(_ context.Context, id, user string) (models.Incident, error) {
	return m.resolveFn(id, user)
}

func (m *collectorMock) Stats(context.Context) ([]models.ServiceStats, error) {
	return m.stats, m.err
}

func withCollector(t *testing.T, m CollectorAPI) {
	t.Helper()
	orig := Collector
	Collector = m
	t.Cleanup(func() { Collector = orig })
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	err := cmd.RunE(cmd, args)
	return buf.String(), err
}

func TestIncidentsListCmd(t *testing.T) {
	withCollector(t, &collectorMock{incidents: []models.Incident{{
		ID: "inc-1", ServiceName: "auth", Endpoint: "/login", Severity: models.SeverityError,
		Description: "Server Error: Status code 503 indicates a broken API.", OccurredAt: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC),
	}}})
	out, err := run(t, incidentsListCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "inc-1") || !strings.Contains(out, "ERROR") || !strings.Contains(out, "2024-07-01 08:00:00 UTC") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestIncidentsListCmdEmpty(t *testing.T) {
	withCollector(t, &collectorMock{})
	out, err := run(t, incidentsListCmd)
	if err != nil || !strings.Contains(out, "No open incidents.") {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestIncidentsResolveCmd(t *testing.T) {
	var gotUser string
	withCollector(t, &collectorMock{resolveFn: func(id, user string) (models.Incident, error) {
		gotUser = user
		return models.Incident{ID: id, ServiceName: "auth", Endpoint: "/login", Status: models.IncidentResolved}, nil
	}})
	resolveUser = "alice"
	t.Cleanup(func() { resolveUser = "" })

	out, err := run(t, incidentsResolveCmd, "inc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "alice" || !strings.Contains(out, "Resolved inc-1") {
		t.Fatalf("unexpected result user=%q out=%q", gotUser, out)
	}
}

func TestIncidentsResolveCmdErrors(t *testing.T) {
	resolveUser = "alice"
	t.Cleanup(func() { resolveUser = "" })

	withCollector(t, &collectorMock{resolveFn: func(string, string) (models.Incident, error) {
		return models.Incident{}, fmt.Errorf("%w: boom", models.ErrAlreadyResolved)
	}})
	out, err := run(t, incidentsResolveCmd, "inc-1")
	if err != nil || !strings.Contains(out, "already resolved") {
		t.Fatalf("already resolved should be reported, got %q %v", out, err)
	}

	withCollector(t, &collectorMock{resolveFn: func(string, string) (models.Incident, error) {
		return models.Incident{}, models.ErrNotFound
	}})
	if _, err := run(t, incidentsResolveCmd, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLogsListCmdPassesFilter(t *testing.T) {
	m := &collectorMock{logs: []models.LogEntry{{ServiceName: "orders", Endpoint: "/create", RequestMethod: "GET", StatusCode: 200, LatencyMs: 12}}}
	withCollector(t, m)
	logsService, logsEndpoint, logsLimit = "orders", "/create", 5
	t.Cleanup(func() { logsService, logsEndpoint, logsLimit = "", "", 50 })

	out, err := run(t, logsListCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.filter != (models.LogFilter{ServiceName: "orders", Endpoint: "/create", Limit: 5}) {
		t.Fatalf("unexpected filter %+v", m.filter)
	}
	if !strings.Contains(out, "12ms") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestLogsSendCmd(t *testing.T) {
	m := &collectorMock{}
	withCollector(t, m)
	sendEntry = models.LogEntry{ServiceName: "orders", Endpoint: "/slow-status", StatusCode: 200, LatencyMs: 800}
	t.Cleanup(func() { sendEntry = models.LogEntry{} })

	if _, err := run(t, logsSendCmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0].LatencyMs != 800 {
		t.Fatalf("unexpected sent entries %+v", m.sent)
	}
}

func TestStatsCmd(t *testing.T) {
	withCollector(t, &collectorMock{stats: []models.ServiceStats{{ServiceName: "orders", Requests: 3, Errors: 1, AvgLatencyMs: 200, P95LatencyMs: 300}}})
	out, err := run(t, statsCmd)
	if err != nil || !strings.Contains(out, "orders") || !strings.Contains(out, "200.0ms") {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestCommandsWithoutCollector(t *testing.T) {
	withCollector(t, nil)
	if _, err := run(t, statsCmd); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestCommandErrorsAreWrapped(t *testing.T) {
	withCollector(t, &collectorMock{err: models.ErrStoreUnavailable})
	if _, err := run(t, incidentsListCmd); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
