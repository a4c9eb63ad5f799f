package misp

import "go.uber.org/fx"

var Module = fx.Module("misp.module",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)
