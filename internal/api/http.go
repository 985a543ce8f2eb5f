package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/httprouter"
	"github.com/valyala/fastjson"

	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/utils"
)

const (
	prefixV1     = "/api/v1"
	logsPath     = prefixV1 + "/logs"
	openPath     = prefixV1 + "/incidents/open"
	resolvePath  = prefixV1 + "/incidents/:id/resolve"
	statsPath    = prefixV1 + "/stats"
	healthPath   = prefixV1 + "/health"
	maxBodyBytes = 1 << 20
)

const corsMethods = "GET, POST, PUT, DELETE, OPTIONS"

// ErrorBody is the JSON body of every non-2xx REST response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes carried in ErrorBody.Code.
const (
	CodeValidation             = "validation"
	CodeNotFound               = "not_found"
	CodeAlreadyResolved        = "already_resolved"
	CodeConcurrentModification = "concurrent_modification"
	CodeStoreUnavailable       = "store_unavailable"
	CodeInternal               = "internal"
)

// HTTPHandler serves the collector REST API.
type HTTPHandler struct {
	logger    *slog.Logger
	collector Collector
	router    *httprouter.Router
	parsers   fastjson.ParserPool
	origins   []string
}

// NewHTTPHandler builds the REST routes. An empty origins list allows any origin.
func NewHTTPHandler(logger *slog.Logger, collector Collector, origins []string) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTPHandler{
		logger:    logger,
		collector: collector,
		router:    httprouter.New(),
		origins:   origins,
	}
	h.router.PanicHandler = h.panicHandler
	h.router.NotFound = http.HandlerFunc(h.notFoundHandler)

	h.router.HandlerFunc(http.MethodPost, logsPath, h.handlePostLogs)
	h.router.HandlerFunc(http.MethodGet, logsPath, h.handleGetLogs)
	h.router.HandlerFunc(http.MethodGet, openPath, h.handleGetOpenIncidents)
	h.router.HandlerFunc(http.MethodPost, resolvePath, h.handleResolveIncident)
	h.router.HandlerFunc(http.MethodGet, statsPath, h.handleGetStats)
	h.router.HandlerFunc(http.MethodGet, healthPath, h.handleHealth)
	return h
}

// ServeHTTP applies CORS and dispatches to the router. Preflight requests
// are answered here without reaching a route.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" {
		if allowed, ok := h.allowOrigin(origin); ok {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Set("Access-Control-Max-Age", "3600")
			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.router.ServeHTTP(w, r)
}

func (h *HTTPHandler) allowOrigin(origin string) (string, bool) {
	if len(h.origins) == 0 {
		return "*", true
	}
	for _, o := range h.origins {
		if o == "*" {
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

func (h *HTTPHandler) handlePostLogs(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	p := h.parsers.Get()
	defer h.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		h.writeError(w, r, &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()})
		return
	}

	// A single object or a batch array. The whole batch is validated before
	// any entry is ingested, so a rejected batch stores nothing.
	values := []*fastjson.Value{v}
	if v.Type() == fastjson.TypeArray {
		values, _ = v.Array()
	}
	entries := make([]models.LogEntry, 0, len(values))
	for i, val := range values {
		entry, err := decodeLogValue(val)
		if err == nil {
			err = entry.Validate()
		}
		if err != nil {
			if len(values) > 1 {
				err = utils.NewAppError("decode batch entry", strconv.Itoa(i), err)
			}
			h.writeError(w, r, err)
			return
		}
		entries = append(entries, entry)
	}

	created := 0
	for _, entry := range entries {
		res, err := h.collector.IngestLog(r.Context(), entry)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if res.Created {
			created++
		}
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "accepted",
		"accepted":         len(entries),
		"incidentsCreated": created,
	})
}

func (h *HTTPHandler) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.LogFilter{ServiceName: q.Get("service"), Endpoint: q.Get("endpoint")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &models.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		filter.Limit = limit
	}
	logs, err := h.collector.ListLogs(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, logs)
}

func (h *HTTPHandler) handleGetOpenIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.collector.ListOpenIncidents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incidents)
}

func (h *HTTPHandler) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	params := httprouter.ParamsFromContext(r.Context())
	incident, err := h.collector.ResolveIncident(r.Context(), params.ByName("id"), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.collector.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "UP", "service": "central-collector"})
}

func (h *HTTPHandler) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, ErrorBody{Error: "no route for " + r.Method + " " + r.URL.Path, Code: CodeNotFound})
}

func (h *HTTPHandler) panicHandler(w http.ResponseWriter, r *http.Request, rcv any) {
	h.logger.Error("panic serving request", slog.String("path", r.URL.Path), slog.Any("panic", rcv))
	h.writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal error", Code: CodeInternal})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	h.writeJSON(w, status, ErrorBody{Error: err.Error(), Code: code})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("encode response failed", slog.Any("error", err))
	}
}

func httpStatus(err error) (int, string) {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrAlreadyResolved):
		return http.StatusConflict, CodeAlreadyResolved
	case errors.Is(err, models.ErrConcurrentModification):
		return http.StatusConflict, CodeConcurrentModification
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// decodeLogValue reads one ingestion object. Timestamps may be RFC 3339
// strings, integer epoch milliseconds, or fractional epoch seconds.
func decodeLogValue(v *fastjson.Value) (models.LogEntry, error) {
	if v.Type() != fastjson.TypeObject {
		return models.LogEntry{}, &models.ValidationError{Field: "body", Reason: "log entry must be a JSON object"}
	}
	entry := models.LogEntry{
		ServiceName:    string(v.GetStringBytes("serviceName")),
		Endpoint:       string(v.GetStringBytes("endpoint")),
		RequestMethod:  string(v.GetStringBytes("requestMethod")),
		IsRateLimitHit: v.GetBool("isRateLimitHit") || v.GetBool("rateLimitHit"),
	}
	status, err := intValue(v, "statusCode")
	if err != nil {
		return models.LogEntry{}, err
	}
	entry.StatusCode = int(status)
	if entry.LatencyMs, err = intValue(v, "latencyMs"); err != nil {
		return models.LogEntry{}, err
	}
	if entry.RequestSize, err = intValue(v, "requestSize"); err != nil {
		return models.LogEntry{}, err
	}
	if entry.ResponseSize, err = intValue(v, "responseSize"); err != nil {
		return models.LogEntry{}, err
	}
	if entry.Timestamp, err = timeValue(v, "timestamp"); err != nil {
		return models.LogEntry{}, err
	}
	return entry, nil
}

func intValue(v *fastjson.Value, name string) (int64, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		return 0, nil
	}
	if f.Type() != fastjson.TypeNumber {
		return 0, &models.ValidationError{Field: name, Reason: "must be a number"}
	}
	n, err := f.Int64()
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

func timeValue(v *fastjson.Value, name string) (time.Time, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		return time.Time{}, nil
	}
	switch f.Type() {
	case fastjson.TypeString:
		raw := string(f.GetStringBytes())
		if raw == "" {
			return time.Time{}, nil
		}
		ts, err := utils.ParseTimestamp(raw)
		if err != nil {
			return time.Time{}, &models.ValidationError{Field: name, Reason: err.Error()}
		}
		return ts, nil
	case fastjson.TypeNumber:
		if ms, err := f.Int64(); err == nil {
			return utils.FromEpochMillis(ms), nil
		}
		secs, err := f.Float64()
		if err != nil {
			return time.Time{}, &models.ValidationError{Field: name, Reason: "must be a timestamp"}
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	default:
		return time.Time{}, &models.ValidationError{Field: name, Reason: "must be a string or number"}
	}
}
