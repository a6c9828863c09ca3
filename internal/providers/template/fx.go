package template

import "go.uber.org/fx"

var Module = fx.Module("template.renderer",
	fx.Provide(ProvideRepository),
	fx.Provide(NewRenderer),
)
