package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/apptledger/libs/grpcx"
	"github.com/md-rashed-zaman/apptledger/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key orchestrators check for this process.
const ServiceName = "apptledger.booking"

// Health mirrors the /readyz checks onto the standard gRPC health service.
type Health struct {
	srv    *health.Server
	checks []runtime.ReadyCheck
	logger *slog.Logger
}

func NewHealth(logger *slog.Logger, checks ...runtime.ReadyCheck) *Health {
	h := &Health{srv: health.NewServer(), checks: checks, logger: logger}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Refresh runs the checks once and publishes the result.
func (h *Health) Refresh(ctx context.Context) bool {
	failures := runtime.CheckAll(ctx, h.checks)
	if len(failures) > 0 {
		h.logger.Warn("not ready", "failures", failures)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch refreshes every interval until ctx ends, then reports NOT_SERVING.
func (h *Health) Watch(ctx context.Context, every time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}

func NewServer(logger *slog.Logger, h *Health) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerRequestIDInterceptor(),
			grpcx.UnaryServerLoggingInterceptor(logger),
		),
	)
	healthpb.RegisterHealthServer(srv, h.srv)
	return srv
}

// Serve listens on addr and stops gracefully when ctx ends.
func Serve(ctx context.Context, logger *slog.Logger, srv *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	logger.Info("grpc server starting", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
