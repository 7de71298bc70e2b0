// Package collector receives OTLP trace exports over gRPC and appends them
// to the span log, so operations instrumented with an OpenTelemetry SDK take
// part in validation without writing span log lines themselves.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/roach88/tracecheck/internal/telemetry"
)

// DefaultAddr is the standard OTLP/gRPC port.
const DefaultAddr = ":4317"

// TraceServer implements the OTLP TraceService.
type TraceServer struct {
	coltracepb.UnimplementedTraceServiceServer

	log      telemetry.Appender
	logger   *zap.Logger
	accepted atomic.Int64
	rejected atomic.Int64
}

// NewTraceServer creates a receiver appending to log.
func NewTraceServer(log telemetry.Appender, logger *zap.Logger) *TraceServer {
	return &TraceServer{log: log, logger: logger}
}

// Export converts and appends every span in the request. Spans missing
// required fields are rejected and reported as a partial success; a failed
// append aborts the request with codes.Internal.
func (s *TraceServer) Export(
	ctx context.Context,
	req *coltracepb.ExportTraceServiceRequest,
) (*coltracepb.ExportTraceServiceResponse, error) {
	var rejected int64
	var firstReason string

	for _, span := range telemetry.FromOTLP(req.GetResourceSpans()) {
		if err := span.Validate(); err != nil {
			rejected++
			if firstReason == "" {
				firstReason = err.Error()
			}
			continue
		}

		line, err := telemetry.EncodeLine(span)
		if err != nil {
			rejected++
			continue
		}
		if err := s.log.Append(line); err != nil {
			s.logger.Error("append exported span", zap.Error(err))
			return nil, status.Errorf(codes.Internal, "append to span log: %v", err)
		}
		s.accepted.Add(1)
		s.logger.Debug("span received",
			zap.String("trace_id", span.TraceID),
			zap.String("service", span.ServiceName),
			zap.String("operation", span.OperationName),
		)
	}

	resp := &coltracepb.ExportTraceServiceResponse{}
	if rejected > 0 {
		s.rejected.Add(rejected)
		s.logger.Warn("rejected exported spans", zap.Int64("count", rejected), zap.String("reason", firstReason))
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: rejected,
			ErrorMessage:  firstReason,
		}
	}
	return resp, nil
}

// Accepted returns how many spans have been appended.
func (s *TraceServer) Accepted() int64 {
	return s.accepted.Load()
}

// Rejected returns how many spans have been refused.
func (s *TraceServer) Rejected() int64 {
	return s.rejected.Load()
}

// Serve registers srv on a new gRPC server and serves lis until ctx is
// cancelled, then stops gracefully.
func Serve(ctx context.Context, lis net.Listener, srv *TraceServer, logger *zap.Logger) error {
	gs := grpc.NewServer()
	coltracepb.RegisterTraceServiceServer(gs, srv)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.Serve(lis)
	}()
	logger.Info("collector listening", zap.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		<-errCh
		logger.Info("collector stopped",
			zap.Int64("accepted", srv.Accepted()),
			zap.Int64("rejected", srv.Rejected()),
		)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve collector: %w", err)
		}
		return nil
	}
}
