package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack/leap-collector/internal/models"
)

const (
	logsPath          = "/api/v1/logs"
	openIncidentsPath = "/api/v1/incidents/open"
	statsPath         = "/api/v1/stats"
	healthPath        = "/api/v1/health"
)

// CollectorClient wraps the collector REST API.
type CollectorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCollectorClient constructs a client targeting the collector at baseURL.
func NewCollectorClient(baseURL string, timeout time.Duration) *CollectorClient {
	return &CollectorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendLog submits one log entry for ingestion.
func (c *CollectorClient) SendLog(ctx context.Context, entry models.LogEntry) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, c.resolvePath(logsPath, nil), entry, http.StatusAccepted, nil); err != nil {
		return fmt.Errorf("collector send log failed: %w", err)
	}
	return nil
}

// ListLogs fetches stored log entries matching filter.
func (c *CollectorClient) ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	q := url.Values{}
	if filter.ServiceName != "" {
		q.Set("service", filter.ServiceName)
	}
	if filter.Endpoint != "" {
		q.Set("endpoint", filter.Endpoint)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var logs []models.LogEntry
	if err := c.do(ctx, http.MethodGet, c.resolvePath(logsPath, q), nil, http.StatusOK, &logs); err != nil {
		return nil, fmt.Errorf("collector list logs failed: %w", err)
	}
	return logs, nil
}

// ListOpenIncidents fetches every OPEN incident.
func (c *CollectorClient) ListOpenIncidents(ctx context.Context) ([]models.Incident, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var incidents []models.Incident
	if err := c.do(ctx, http.MethodGet, c.resolvePath(openIncidentsPath, nil), nil, http.StatusOK, &incidents); err != nil {
		return nil, fmt.Errorf("collector list incidents failed: %w", err)
	}
	return incidents, nil
}

// ResolveIncident resolves incidentID on behalf of userID.
func (c *CollectorClient) ResolveIncident(ctx context.Context, incidentID, userID string) (models.Incident, error) {
	if err := c.ready(); err != nil {
		return models.Incident{}, err
	}
	q := url.Values{"userId": []string{userID}}
	endpoint := c.resolvePath("/api/v1/incidents/"+incidentID+"/resolve", q)
	var incident models.Incident
	if err := c.do(ctx, http.MethodPost, endpoint, nil, http.StatusOK, &incident); err != nil {
		return models.Incident{}, fmt.Errorf("collector resolve incident %s failed: %w", incidentID, err)
	}
	return incident, nil
}

// Stats fetches per-service traffic statistics.
func (c *CollectorClient) Stats(ctx context.Context) ([]models.ServiceStats, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var stats []models.ServiceStats
	if err := c.do(ctx, http.MethodGet, c.resolvePath(statsPath, nil), nil, http.StatusOK, &stats); err != nil {
		return nil, fmt.Errorf("collector stats failed: %w", err)
	}
	return stats, nil
}

// Health reports the collector health payload.
func (c *CollectorClient) Health(ctx context.Context) (map[string]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var health map[string]string
	if err := c.do(ctx, http.MethodGet, c.resolvePath(healthPath, nil), nil, http.StatusOK, &health); err != nil {
		return nil, fmt.Errorf("collector health failed: %w", err)
	}
	return health, nil
}

func (c *CollectorClient) ready() error {
	if c == nil {
		return fmt.Errorf("collector client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("collector base URL not configured")
	}
	return nil
}

func (c *CollectorClient) resolvePath(p string, q url.Values) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *CollectorClient) do(ctx context.Context, method, endpoint string, payload any, want int, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError maps a collector error body back onto the error taxonomy.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return fmt.Errorf("collector returned %s", resp.Status)
	}

	var kind error
	switch body.Code {
	case "validation":
		return &models.ValidationError{Field: "request", Reason: body.Error}
	case "not_found":
		kind = models.ErrNotFound
	case "already_resolved":
		kind = models.ErrAlreadyResolved
	case "concurrent_modification":
		kind = models.ErrConcurrentModification
	case "store_unavailable":
		kind = models.ErrStoreUnavailable
	default:
		return fmt.Errorf("collector returned %s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("%w: %s", kind, body.Error)
}
