package api

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/leapstack/leap-collector/internal/alerting"
	"github.com/leapstack/leap-collector/internal/services"
	"github.com/leapstack/leap-collector/internal/store"
	"github.com/leapstack/leap-collector/internal/utils"
)

func newTestCollector(t *testing.T) (*services.CollectorService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC))
	logger := utils.DiscardLogger()
	svc := services.NewCollectorService(logger, mem,
		alerting.NewEvaluator(alerting.Thresholds{LatencyThresholdMs: 500, ErrorStatusMin: 500}, nil),
		alerting.NewDeduplicator(mem, logger, alerting.WithClock(mock)),
		alerting.NewResolver(mem, logger, alerting.WithResolveClock(mock)),
		services.WithClock(mock),
	)
	return svc, mem
}
