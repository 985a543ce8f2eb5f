package api

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/services"
)

// CollectorServiceName is the fully qualified gRPC service name.
const CollectorServiceName = "leap.collector.v1.Collector"

const (
	methodIngestLog         = "/" + CollectorServiceName + "/IngestLog"
	methodListOpenIncidents = "/" + CollectorServiceName + "/ListOpenIncidents"
	methodResolveIncident   = "/" + CollectorServiceName + "/ResolveIncident"
	methodListLogs          = "/" + CollectorServiceName + "/ListLogs"
)

// Collector is the service surface both transports expose.
type Collector interface {
	IngestLog(ctx context.Context, entry models.LogEntry) (services.IngestResult, error)
	ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error)
	ListOpenIncidents(ctx context.Context) ([]models.Incident, error)
	ResolveIncident(ctx context.Context, incidentID, userID string) (models.Incident, error)
	Stats(ctx context.Context) ([]models.ServiceStats, error)
}

// CollectorServer is the gRPC handler interface for CollectorServiceName.
type CollectorServer interface {
	IngestLog(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOpenIncidents(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ResolveIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLogs(context.Context, *structpb.Struct) (*structpb.ListValue, error)
}

// RegisterCollectorServer registers srv on s.
func RegisterCollectorServer(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&collectorServiceDesc, srv)
}

var collectorServiceDesc = grpc.ServiceDesc{
	ServiceName: CollectorServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IngestLog", Handler: ingestLogHandler},
		{MethodName: "ListOpenIncidents", Handler: listOpenIncidentsHandler},
		{MethodName: "ResolveIncident", Handler: resolveIncidentHandler},
		{MethodName: "ListLogs", Handler: listLogsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leap/collector/v1/collector.proto",
}

func ingestLogHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).IngestLog(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodIngestLog}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).IngestLog(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listOpenIncidentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).ListOpenIncidents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListOpenIncidents}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).ListOpenIncidents(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveIncidentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).ResolveIncident(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodResolveIncident}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).ResolveIncident(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listLogsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).ListLogs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListLogs}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).ListLogs(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCService adapts a Collector to CollectorServer.
type GRPCService struct {
	logger    *slog.Logger
	collector Collector
}

// NewGRPCService constructs the gRPC facade over collector.
func NewGRPCService(logger *slog.Logger, collector Collector) *GRPCService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCService{logger: logger, collector: collector}
}

// IngestLog accepts one log entry.
func (g *GRPCService) IngestLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entry, err := FromStructLogEntry(req)
	if err != nil {
		return nil, toStatus(err)
	}
	result, err := g.collector.IngestLog(ctx, entry)
	if err != nil {
		g.logger.Debug("IngestLog failed", slog.String("service", entry.ServiceName), slog.Any("error", err))
		return nil, toStatus(err)
	}

	fields := map[string]*structpb.Value{
		"accepted": structpb.NewBoolValue(true),
		"entry":    structpb.NewStructValue(ToStructLogEntry(result.Entry)),
		"created":  structpb.NewBoolValue(result.Created),
	}
	if result.Violation != nil {
		fields["severity"] = structpb.NewStringValue(string(result.Violation.Severity))
	}
	if result.Incident != nil {
		fields["incident"] = structpb.NewStructValue(ToStructIncident(*result.Incident))
	}
	return &structpb.Struct{Fields: fields}, nil
}

// ListOpenIncidents returns every OPEN incident.
func (g *GRPCService) ListOpenIncidents(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	incidents, err := g.collector.ListOpenIncidents(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toListValue(incidents, ToStructIncident), nil
}

// ResolveIncident resolves {incidentId, userId}.
func (g *GRPCService) ResolveIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	incident, err := g.collector.ResolveIncident(ctx, stringField(fields, "incidentId"), stringField(fields, "userId"))
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStructIncident(incident), nil
}

// ListLogs returns stored log entries, newest first.
func (g *GRPCService) ListLogs(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	filter, err := FromStructLogFilter(req)
	if err != nil {
		return nil, toStatus(err)
	}
	logs, err := g.collector.ListLogs(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}
	return toListValue(logs, ToStructLogEntry), nil
}

// toStatus maps the collector error taxonomy onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case models.IsValidation(err):
		code = codes.InvalidArgument
	case errors.Is(err, models.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, models.ErrAlreadyResolved):
		code = codes.FailedPrecondition
	case errors.Is(err, models.ErrConcurrentModification):
		code = codes.Aborted
	case errors.Is(err, models.ErrStoreUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// fromStatus is the client-side inverse of toStatus.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return &models.ValidationError{Field: "request", Reason: st.Message()}
	case codes.NotFound:
		return errors.Join(models.ErrNotFound, err)
	case codes.FailedPrecondition:
		return errors.Join(models.ErrAlreadyResolved, err)
	case codes.Aborted:
		return errors.Join(models.ErrConcurrentModification, err)
	case codes.Unavailable:
		return errors.Join(models.ErrStoreUnavailable, err)
	default:
		return err
	}
}
