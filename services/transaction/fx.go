package transaction

import (
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.store",
	fx.Provide(
		NewService,
		func(s *Service) Store { return s },
	),
)
