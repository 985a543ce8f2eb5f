// Package alerting turns log entries into incidents: the Evaluator classifies
// an entry, the Deduplicator keeps a single OPEN incident per
// (service, endpoint), and the Resolver closes incidents exactly once.
package alerting

import (
	"fmt"

	"github.com/leapstack/leap-collector/internal/models"
)

// Thresholds are the two limits a log entry is checked against.
type Thresholds struct {
	// LatencyThresholdMs is exclusive: only latencies strictly above it are SLOW.
	LatencyThresholdMs int64 `yaml:"latencyThresholdMs"`
	// ErrorStatusMin is the inclusive lower bound of error status codes.
	ErrorStatusMin int `yaml:"errorStatusMin"`
}

// Evaluator classifies log entries. It is safe for concurrent use.
type Evaluator struct {
	defaults Thresholds
	rules    *RulePack
}

// NewEvaluator builds an Evaluator. rules may be nil.
func NewEvaluator(defaults Thresholds, rules *RulePack) *Evaluator {
	return &Evaluator{defaults: defaults, rules: rules}
}

// Evaluate returns the single violation raised by entry, if any. Conditions
// are checked in priority order RATE_LIMIT, SLOW, ERROR and the first match wins.
func (e *Evaluator) Evaluate(entry models.LogEntry) (models.Violation, bool) {
	limits := e.ThresholdsFor(entry.ServiceName, entry.Endpoint)
	violation := models.Violation{ServiceName: entry.ServiceName, Endpoint: entry.Endpoint}

	switch {
	case entry.IsRateLimitHit:
		violation.Severity = models.SeverityRateLimit
		violation.Description = fmt.Sprintf("Rate Limit Hit: The %s service exceeded its configured rate limit.", entry.ServiceName)
	case entry.LatencyMs > limits.LatencyThresholdMs:
		violation.Severity = models.SeveritySlow
		violation.Description = fmt.Sprintf("High Latency: %dms exceeded threshold of %dms.", entry.LatencyMs, limits.LatencyThresholdMs)
	case entry.StatusCode >= limits.ErrorStatusMin:
		violation.Severity = models.SeverityError
		violation.Description = fmt.Sprintf("Server Error: Status code %d indicates a broken API.", entry.StatusCode)
	default:
		return models.Violation{}, false
	}
	return violation, true
}

// ThresholdsFor returns the effective thresholds for a service endpoint.
func (e *Evaluator) ThresholdsFor(service, endpoint string) Thresholds {
	return e.rules.apply(e.defaults, service, endpoint)
}
