package source

import "go.uber.org/fx"

var Module = fx.Module("source.connector",
	fx.Provide(
		fx.Annotate(NewSQLConnector, fx.As(new(Connector))),
	),
)
