package ledgerengine

import "go.uber.org/fx"

var Module = fx.Module("ledgerengine",
	fx.Provide(New),
)
