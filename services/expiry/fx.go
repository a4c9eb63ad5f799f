package expiry

import (
	"misp-controlplane/services/misp"

	"go.uber.org/fx"
)

var Module = fx.Module("expiry.service",
	fx.Provide(
		func(s *misp.Service) KeyStore { return s },
		NewService,
		NewScheduler,
	),
	fx.Invoke(StartScheduler),
)

// Worker registers the task handlers on the asynq server mux.
var Worker = fx.Module("expiry.worker",
	fx.Invoke(registerHandlers),
)
