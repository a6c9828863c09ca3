package watchdog

import "go.uber.org/fx"

var Module = fx.Module("watchdog", fx.Provide(NewService))
