package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/leapstack/leap-collector/internal/models"
)

// GRPCClient calls the collector gRPC service on an established connection.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// NewGRPCClient wraps conn.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// IngestLog submits entry and returns the open incident it mapped to, if any.
func (c *GRPCClient) IngestLog(ctx context.Context, entry models.LogEntry) (*models.Incident, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodIngestLog, ToStructLogEntry(entry), out); err != nil {
		return nil, fromStatus(err)
	}
	msg := out.GetFields()["incident"].GetStructValue()
	if msg == nil {
		return nil, nil
	}
	incident, err := FromStructIncident(msg)
	if err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &incident, nil
}

// ListOpenIncidents fetches every OPEN incident.
func (c *GRPCClient) ListOpenIncidents(ctx context.Context) ([]models.Incident, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, methodListOpenIncidents, &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus(err)
	}
	return fromListValue(out, FromStructIncident)
}

// ResolveIncident resolves incidentID on behalf of userID.
func (c *GRPCClient) ResolveIncident(ctx context.Context, incidentID, userID string) (models.Incident, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"incidentId": structpb.NewStringValue(incidentID),
		"userId":     structpb.NewStringValue(userID),
	}}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodResolveIncident, in, out); err != nil {
		return models.Incident{}, fromStatus(err)
	}
	return FromStructIncident(out)
}

// ListLogs fetches log entries matching filter.
func (c *GRPCClient) ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, methodListLogs, ToStructLogFilter(filter), out); err != nil {
		return nil, fromStatus(err)
	}
	return fromListValue(out, FromStructLogEntry)
}
