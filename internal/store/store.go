// Package store persists log entries and incidents.
//
// Incident stores enforce two rules on their own, independent of callers:
// at most one OPEN incident per (service, endpoint) key, and updates are
// compare-and-swap on the incident version.
package store

import (
	"context"
	"errors"

	"github.com/leapstack/leap-collector/internal/models"
)

var (
	// ErrVersionConflict is returned by UpdateIncident when the stored version
	// differs from the version the caller read.
	ErrVersionConflict = errors.New("incident version conflict")
	// ErrOpenIncidentExists is returned by CreateIncident when an OPEN incident
	// already exists for the same key.
	ErrOpenIncidentExists = errors.New("open incident already exists")
)

// LogStore is append-only persistence for log entries.
type LogStore interface {
	// AppendLog persists the entry and returns it with its assigned ID.
	AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error)
	// ListLogs returns entries matching filter, newest first.
	ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error)
}

// IncidentStore persists incidents with optimistic-concurrency versioning.
type IncidentStore interface {
	// FindOpen returns the OPEN incidents for key.
	FindOpen(ctx context.Context, key models.DedupKey) ([]models.Incident, error)
	// CreateIncident persists a new OPEN incident. An empty ID is assigned.
	// ErrOpenIncidentExists is returned if the key already has an OPEN incident.
	CreateIncident(ctx context.Context, incident models.Incident) (models.Incident, error)
	// GetIncident returns models.ErrNotFound for unknown ids.
	GetIncident(ctx context.Context, id string) (models.Incident, error)
	// UpdateIncident writes incident if the stored version equals incident.Version
	// and returns the stored record with the version incremented.
	// ErrVersionConflict is returned otherwise.
	UpdateIncident(ctx context.Context, incident models.Incident) (models.Incident, error)
	// ListIncidents returns incidents with the given status, or all incidents
	// when status is empty, ordered by occurrence.
	ListIncidents(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error)
}

// Store bundles both stores. Every backend in this package implements it.
type Store interface {
	LogStore
	IncidentStore
	Close() error
}
