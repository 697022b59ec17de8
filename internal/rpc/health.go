package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StartHealthWatcher runs a background goroutine that pings the store every
// interval and flips the gRPC health status of the server and of
// ServiceName accordingly. The first check runs immediately.
func StartHealthWatcher(ctx context.Context, p Pinger, hs *health.Server, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Health watcher started", "interval", interval)

		last := healthpb.HealthCheckResponse_UNKNOWN
		for {
			last = checkHealth(ctx, p, hs, timeout, last)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				hs.Shutdown()
				slog.Info("Health watcher shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func checkHealth(ctx context.Context, p Pinger, hs *health.Server, timeout time.Duration, last healthpb.HealthCheckResponse_ServingStatus) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	next := healthpb.HealthCheckResponse_SERVING
	if err := p.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return last
		}
		next = healthpb.HealthCheckResponse_NOT_SERVING
		if last != next {
			slog.Error("Health watcher: store unreachable", "error", err)
		}
	} else if last != next && last != healthpb.HealthCheckResponse_UNKNOWN {
		slog.Info("Health watcher: store reachable again")
	}

	hs.SetServingStatus("", next)
	hs.SetServingStatus(ServiceName, next)
	return next
}
