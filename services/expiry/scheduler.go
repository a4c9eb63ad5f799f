package expiry

import (
	"context"
	"time"

	"misp-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	interval := cfg.License.ExpiryScanInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{service: svc, interval: interval}
}

// StartScheduler ties the scan loop to the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

// run scans once immediately and then every interval until ctx is cancelled.
func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started license expiry scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()

	n, err := s.service.EnqueueExpiringKeys(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] license expiry scan failed", zap.Int("enqueued", n), zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] finished license expiry scan",
		zap.Int("enqueued", n),
		zap.Duration("duration", time.Since(start)),
	)
}
