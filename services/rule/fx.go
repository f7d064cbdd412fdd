package rule

import (
	"go.uber.org/fx"
)

var Module = fx.Module("rule.evaluator",
	fx.Provide(
		NewProgramCache,
		NewEvaluatorWithCache,
	),
)
