package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hrms.org/internal/obs"
)

// HealthServer serves grpc.health.v1.Health with a status driven by the
// readiness probe. Both the overall ("") and the named service report the
// same status.
type HealthServer struct {
	hs        *health.Server
	readiness readinessChecker
}

// NewHealthServer creates the gRPC health service wrapper. It starts out
// NOT_SERVING until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{hs: hs, readiness: r}
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.hs)
}

// Refresh runs the readiness probe once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.readiness != nil {
		if err := h.readiness.Check(ctx); err != nil {
			obs.Log("warn", "grpc.health.not_ready", map[string]any{"error": err})
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.hs.SetServingStatus("", status)
	h.hs.SetServingStatus(serviceName, status)
	return status
}

// Run refreshes the status every interval until ctx is done, then marks the
// service as shutting down.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		h.Refresh(probeCtx)
		cancel()
		select {
		case <-ctx.Done():
			h.hs.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
