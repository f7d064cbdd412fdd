package processing

import "go.uber.org/fx"

var Module = fx.Module("processing.service",
	fx.Provide(NewService),
)
