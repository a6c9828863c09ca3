package receiptprocessor

import "go.uber.org/fx"

var Module = fx.Module("receiptprocessor",
	fx.Provide(NewService),
)
