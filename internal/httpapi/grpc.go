package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"careloop.org/internal/obs"
)

// GRPCHealth exposes the standard gRPC health service driven by the same
// readiness probe as /readyz. Kubernetes gRPC probes point here.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewGRPCHealth builds the server; call Watch to keep the status fresh and
// Server().Serve(lis) to expose it.
func NewGRPCHealth(probe ReadyProbe) *GRPCHealth {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCHealth{
		server: srv,
		health: hs,
		probe:  probe,
	}
}

// Server returns the underlying grpc.Server for Serve and GracefulStop.
func (g *GRPCHealth) Server() *grpc.Server {
	return g.server
}

// Watch re-evaluates readiness on an interval until ctx ends.
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.health.Shutdown()
			return
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

func (g *GRPCHealth) refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := g.probe.Check(checkCtx); err != nil {
		obs.SetReady(false)
		g.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	obs.SetReady(true)
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}
