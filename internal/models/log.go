package models

import "time"

// LogEntry is one observed request reported by a tracked service.
type LogEntry struct {
	ID             string    `json:"id,omitempty"`
	ServiceName    string    `json:"serviceName"`
	Endpoint       string    `json:"endpoint"`
	RequestMethod  string    `json:"requestMethod"`
	StatusCode     int       `json:"statusCode"`
	LatencyMs      int64     `json:"latencyMs"`
	RequestSize    int64     `json:"requestSize"`
	ResponseSize   int64     `json:"responseSize"`
	Timestamp      time.Time `json:"timestamp"`
	IsRateLimitHit bool      `json:"isRateLimitHit"`
}

// Validate rejects entries the collector must not accept.
func (e LogEntry) Validate() error {
	switch {
	case e.ServiceName == "":
		return &ValidationError{Field: "serviceName", Reason: "must not be empty"}
	case e.Endpoint == "":
		return &ValidationError{Field: "endpoint", Reason: "must not be empty"}
	case e.LatencyMs < 0:
		return &ValidationError{Field: "latencyMs", Reason: "must be >= 0"}
	case e.RequestSize < 0:
		return &ValidationError{Field: "requestSize", Reason: "must be >= 0"}
	case e.ResponseSize < 0:
		return &ValidationError{Field: "responseSize", Reason: "must be >= 0"}
	}
	return nil
}

// Key returns the deduplication key of the entry.
func (e LogEntry) Key() DedupKey {
	return DedupKey{ServiceName: e.ServiceName, Endpoint: e.Endpoint}
}

// LogFilter narrows log queries. Zero values match everything.
type LogFilter struct {
	ServiceName string
	Endpoint    string
	Limit       int
}

// Matches reports whether the entry satisfies the filter's field constraints.
func (f LogFilter) Matches(e LogEntry) bool {
	if f.ServiceName != "" && f.ServiceName != e.ServiceName {
		return false
	}
	if f.Endpoint != "" && f.Endpoint != e.Endpoint {
		return false
	}
	return true
}

// ServiceStats aggregates ingestion figures for one service.
type ServiceStats struct {
	ServiceName   string  `json:"serviceName"`
	Requests      int64   `json:"requests"`
	Errors        int64   `json:"errors"`
	RateLimitHits int64   `json:"rateLimitHits"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
	P95LatencyMs  int64   `json:"p95LatencyMs"`
}
