package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"misp-controlplane/internal/httpapi"
	"misp-controlplane/pkg/config"
	"misp-controlplane/pkg/db"
	"misp-controlplane/pkg/gen"
	"misp-controlplane/pkg/hashistack/secretmanager"
	"misp-controlplane/pkg/health"
	"misp-controlplane/pkg/logger"
	"misp-controlplane/pkg/otelcol"
	"misp-controlplane/pkg/profiling"
	"misp-controlplane/pkg/redis"
	"misp-controlplane/pkg/sequence"
	"misp-controlplane/pkg/server"
	"misp-controlplane/pkg/task"
	"misp-controlplane/services/expiry"
	"misp-controlplane/services/misp"
)

func main() {
	opts := []fx.Option{
		config.Select(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		gen.Module,
		sequence.Module,
		misp.Module,
		expiry.Module,
		health.Module,
		httpapi.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
