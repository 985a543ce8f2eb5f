package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/leapstack/leap-collector/internal/models"
)

// Memory is an in-process Store. Each write is atomic under a single mutex.
type Memory struct {
	mu        sync.RWMutex
	closed    bool
	logs      []models.LogEntry
	logSeq    uint64
	incidents map[string]models.Incident
	open      map[models.DedupKey]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		incidents: make(map[string]models.Incident),
		open:      make(map[models.DedupKey]string),
	}
}

// AppendLog implements LogStore.
func (m *Memory) AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.LogEntry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.LogEntry{}, models.ErrStoreUnavailable
	}
	m.logSeq++
	entry.ID = strconv.FormatUint(m.logSeq, 10)
	m.logs = append(m.logs, entry)
	return entry, nil
}

// ListLogs implements LogStore.
func (m *Memory) ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, models.ErrStoreUnavailable
	}

	out := make([]models.LogEntry, 0)
	for i := len(m.logs) - 1; i >= 0; i-- {
		if !filter.Matches(m.logs[i]) {
			continue
		}
		out = append(out, m.logs[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// FindOpen implements IncidentStore.
func (m *Memory) FindOpen(ctx context.Context, key models.DedupKey) ([]models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, models.ErrStoreUnavailable
	}
	id, ok := m.open[key]
	if !ok {
		return nil, nil
	}
	return []models.Incident{m.incidents[id]}, nil
}

// CreateIncident implements IncidentStore.
func (m *Memory) CreateIncident(ctx context.Context, incident models.Incident) (models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return models.Incident{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.Incident{}, models.ErrStoreUnavailable
	}

	key := incident.Key()
	if incident.IsOpen() {
		if _, exists := m.open[key]; exists {
			return models.Incident{}, ErrOpenIncidentExists
		}
	}
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	m.incidents[incident.ID] = incident
	if incident.IsOpen() {
		m.open[key] = incident.ID
	}
	return incident, nil
}

// GetIncident implements IncidentStore.
func (m *Memory) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return models.Incident{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return models.Incident{}, models.ErrStoreUnavailable
	}
	incident, ok := m.incidents[id]
	if !ok {
		return models.Incident{}, models.ErrNotFound
	}
	return incident, nil
}

// UpdateIncident implements IncidentStore.
func (m *Memory) UpdateIncident(ctx context.Context, incident models.Incident) (models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return models.Incident{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.Incident{}, models.ErrStoreUnavailable
	}

	stored, ok := m.incidents[incident.ID]
	if !ok {
		return models.Incident{}, models.ErrNotFound
	}
	if stored.Version != incident.Version {
		return models.Incident{}, ErrVersionConflict
	}

	// The key is fixed at creation; the open index depends on it.
	incident.ServiceName = stored.ServiceName
	incident.Endpoint = stored.Endpoint
	incident.Version = stored.Version + 1
	m.incidents[incident.ID] = incident
	if stored.IsOpen() && !incident.IsOpen() {
		delete(m.open, stored.Key())
	}
	return incident, nil
}

// ListIncidents implements IncidentStore.
func (m *Memory) ListIncidents(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, models.ErrStoreUnavailable
	}

	out := make([]models.Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		if status != "" && incident.Status != status {
			continue
		}
		out = append(out, incident)
	}
	sortIncidents(out)
	return out, nil
}

// Close marks the store unavailable; later calls fail with models.ErrStoreUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortIncidents(incidents []models.Incident) {
	sort.Slice(incidents, func(i, j int) bool {
		if incidents[i].OccurredAt.Equal(incidents[j].OccurredAt) {
			return incidents[i].ID < incidents[j].ID
		}
		return incidents[i].OccurredAt.Before(incidents[j].OccurredAt)
	})
}
