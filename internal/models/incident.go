package models

import "time"

// Severity classifies the condition an incident was opened for.
type Severity string

const (
	SeverityRateLimit Severity = "RATE_LIMIT"
	SeveritySlow      Severity = "SLOW"
	SeverityError     Severity = "ERROR"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

// DedupKey identifies the (service, endpoint) pair an open incident is unique for.
type DedupKey struct {
	ServiceName string
	Endpoint    string
}

// String renders the key in a form safe for lock and index names.
func (k DedupKey) String() string {
	return k.ServiceName + "\x00" + k.Endpoint
}

// Violation is a log entry that breached a monitored condition.
type Violation struct {
	ServiceName string
	Endpoint    string
	Severity    Severity
	Description string
}

// Key returns the deduplication key of the violation.
func (v Violation) Key() DedupKey {
	return DedupKey{ServiceName: v.ServiceName, Endpoint: v.Endpoint}
}

// Incident records an ongoing or resolved problem for a (service, endpoint) pair.
type Incident struct {
	ID          string         `json:"id"`
	ServiceName string         `json:"serviceName"`
	Endpoint    string         `json:"endpoint"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Status      IncidentStatus `json:"status"`
	ResolvedBy  *string        `json:"resolvedBy,omitempty"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
	Version     int64          `json:"version"`
}

// Key returns the deduplication key of the incident.
func (i Incident) Key() DedupKey {
	return DedupKey{ServiceName: i.ServiceName, Endpoint: i.Endpoint}
}

// IsOpen reports whether the incident still represents an ongoing problem.
func (i Incident) IsOpen() bool {
	return i.Status == IncidentOpen
}
