package health

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcProbeInterval = 10 * time.Second

// ProvideGRPCHealth returns the standard grpc health service. Its overall
// status follows Check.
func ProvideGRPCHealth() *grpchealth.Server {
	return grpchealth.NewServer()
}

// Sync copies the current readiness into the grpc health service.
func Sync(ctx context.Context, h HealthService, srv *grpchealth.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if result := h.Check(ctx); !result.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		zap.L().Warn("readiness check failed", zap.String("message", result.Message))
	}
	srv.SetServingStatus("", status)
}

func StartGRPCHealth(lc fx.Lifecycle, h HealthService, srv *grpchealth.Server) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)

				ticker := time.NewTicker(grpcProbeInterval)
				defer ticker.Stop()

				for {
					Sync(ctx, h, srv)
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			srv.Shutdown()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
