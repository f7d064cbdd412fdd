package campaign

import (
	"go.uber.org/fx"
)

var Module = fx.Module("campaign.store",
	fx.Provide(
		NewService,
		func(s *Service) Store { return s },
	),
)
