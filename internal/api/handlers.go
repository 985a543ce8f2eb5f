package api

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/utils"
)

// FromStructLogEntry maps an IngestLog request message into a domain LogEntry.
// Unknown fields are ignored; the entry itself is validated by the service.
func FromStructLogEntry(msg *structpb.Struct) (models.LogEntry, error) {
	if msg == nil {
		return models.LogEntry{}, &models.ValidationError{Field: "request", Reason: "must not be nil"}
	}
	fields := msg.GetFields()

	entry := models.LogEntry{
		ID:            stringField(fields, "id"),
		ServiceName:   stringField(fields, "serviceName"),
		Endpoint:      stringField(fields, "endpoint"),
		RequestMethod: stringField(fields, "requestMethod"),
	}
	var err error
	var status int64
	if status, err = intField(fields, "statusCode"); err != nil {
		return models.LogEntry{}, err
	}
	entry.StatusCode = int(status)
	if entry.LatencyMs, err = intField(fields, "latencyMs"); err != nil {
		return models.LogEntry{}, err
	}
	if entry.RequestSize, err = intField(fields, "requestSize"); err != nil {
		return models.LogEntry{}, err
	}
	if entry.ResponseSize, err = intField(fields, "responseSize"); err != nil {
		return models.LogEntry{}, err
	}
	if entry.Timestamp, err = timeField(fields, "timestamp"); err != nil {
		return models.LogEntry{}, err
	}
	entry.IsRateLimitHit = fields["isRateLimitHit"].GetBoolValue() || fields["rateLimitHit"].GetBoolValue()
	return entry, nil
}

// ToStructLogEntry converts a LogEntry into its wire message.
func ToStructLogEntry(entry models.LogEntry) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":             structpb.NewStringValue(entry.ID),
		"serviceName":    structpb.NewStringValue(entry.ServiceName),
		"endpoint":       structpb.NewStringValue(entry.Endpoint),
		"requestMethod":  structpb.NewStringValue(entry.RequestMethod),
		"statusCode":     structpb.NewNumberValue(float64(entry.StatusCode)),
		"latencyMs":      structpb.NewNumberValue(float64(entry.LatencyMs)),
		"requestSize":    structpb.NewNumberValue(float64(entry.RequestSize)),
		"responseSize":   structpb.NewNumberValue(float64(entry.ResponseSize)),
		"timestamp":      structpb.NewStringValue(entry.Timestamp.UTC().Format(time.RFC3339Nano)),
		"isRateLimitHit": structpb.NewBoolValue(entry.IsRateLimitHit),
	}}
}

// ToStructIncident converts an Incident into its wire message.
func ToStructIncident(incident models.Incident) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"id":          structpb.NewStringValue(incident.ID),
		"serviceName": structpb.NewStringValue(incident.ServiceName),
		"endpoint":    structpb.NewStringValue(incident.Endpoint),
		"severity":    structpb.NewStringValue(string(incident.Severity)),
		"description": structpb.NewStringValue(incident.Description),
		"occurredAt":  structpb.NewStringValue(incident.OccurredAt.UTC().Format(time.RFC3339Nano)),
		"status":      structpb.NewStringValue(string(incident.Status)),
		"version":     structpb.NewNumberValue(float64(incident.Version)),
	}
	if incident.ResolvedBy != nil {
		fields["resolvedBy"] = structpb.NewStringValue(*incident.ResolvedBy)
	}
	if incident.ResolvedAt != nil {
		fields["resolvedAt"] = structpb.NewStringValue(incident.ResolvedAt.UTC().Format(time.RFC3339Nano))
	}
	return &structpb.Struct{Fields: fields}
}

// FromStructIncident is the inverse of ToStructIncident.
func FromStructIncident(msg *structpb.Struct) (models.Incident, error) {
	if msg == nil {
		return models.Incident{}, fmt.Errorf("incident message is nil")
	}
	fields := msg.GetFields()
	incident := models.Incident{
		ID:          stringField(fields, "id"),
		ServiceName: stringField(fields, "serviceName"),
		Endpoint:    stringField(fields, "endpoint"),
		Severity:    models.Severity(stringField(fields, "severity")),
		Description: stringField(fields, "description"),
		Status:      models.IncidentStatus(stringField(fields, "status")),
	}
	var err error
	if incident.OccurredAt, err = timeField(fields, "occurredAt"); err != nil {
		return models.Incident{}, err
	}
	if incident.Version, err = intField(fields, "version"); err != nil {
		return models.Incident{}, err
	}
	if by, ok := fields["resolvedBy"]; ok {
		v := by.GetStringValue()
		incident.ResolvedBy = &v
	}
	if _, ok := fields["resolvedAt"]; ok {
		at, err := timeField(fields, "resolvedAt")
		if err != nil {
			return models.Incident{}, err
		}
		incident.ResolvedAt = &at
	}
	return incident, nil
}

// FromStructLogFilter maps a ListLogs request message into a LogFilter.
func FromStructLogFilter(msg *structpb.Struct) (models.LogFilter, error) {
	fields := msg.GetFields()
	limit, err := intField(fields, "limit")
	if err != nil {
		return models.LogFilter{}, err
	}
	return models.LogFilter{
		ServiceName: stringField(fields, "serviceName"),
		Endpoint:    stringField(fields, "endpoint"),
		Limit:       int(limit),
	}, nil
}

// ToStructLogFilter converts a LogFilter into a ListLogs request message.
func ToStructLogFilter(filter models.LogFilter) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"serviceName": structpb.NewStringValue(filter.ServiceName),
		"endpoint":    structpb.NewStringValue(filter.Endpoint),
		"limit":       structpb.NewNumberValue(float64(filter.Limit)),
	}}
}

func toListValue[T any](items []T, convert func(T) *structpb.Struct) *structpb.ListValue {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(items))}
	for _, item := range items {
		list.Values = append(list.Values, structpb.NewStructValue(convert(item)))
	}
	return list
}

func fromListValue[T any](list *structpb.ListValue, convert func(*structpb.Struct) (T, error)) ([]T, error) {
	out := make([]T, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		item, err := convert(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func stringField(fields map[string]*structpb.Value, name string) string {
	return fields[name].GetStringValue()
}

func intField(fields map[string]*structpb.Value, name string) (int64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, nil
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, &models.ValidationError{Field: name, Reason: "must be an integer"}
		}
		return int64(n), nil
	default:
		return 0, &models.ValidationError{Field: name, Reason: "must be a number"}
	}
}

// timeField accepts RFC 3339 strings or epoch milliseconds.
func timeField(fields map[string]*structpb.Value, name string) (time.Time, error) {
	v, ok := fields[name]
	if !ok {
		return time.Time{}, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return time.Time{}, nil
	case *structpb.Value_NumberValue:
		return utils.FromEpochMillis(int64(kind.NumberValue)), nil
	case *structpb.Value_StringValue:
		if kind.StringValue == "" {
			return time.Time{}, nil
		}
		ts, err := utils.ParseTimestamp(kind.StringValue)
		if err != nil {
			return time.Time{}, &models.ValidationError{Field: name, Reason: err.Error()}
		}
		return ts, nil
	default:
		return time.Time{}, &models.ValidationError{Field: name, Reason: "must be a string or epoch milliseconds"}
	}
}
