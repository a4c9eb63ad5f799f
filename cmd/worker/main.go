package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"misp-controlplane/pkg/config"
	"misp-controlplane/pkg/hashistack/secretmanager"
	"misp-controlplane/pkg/logger"
	"misp-controlplane/pkg/task"
	"misp-controlplane/services/expiry"
)

// The worker consumes license:expiring tasks enqueued by cmd/misp.
func main() {
	opts := []fx.Option{
		config.Select(),
		logger.Module,
		task.Server,
		expiry.Worker,
		fxLogger,
	}

	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
