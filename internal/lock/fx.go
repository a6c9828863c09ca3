package lock

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Params accepts an optional redis client so the module degrades to the
// in-process fallback when Redis isn't wired (local/dev/sqlite profile).
type Params struct {
	fx.In

	Client *redis.Client `optional:"true"`
}

func New(p Params) Locker {
	if p.Client == nil {
		return NewInProcessLocker()
	}
	return NewRedisLocker(p.Client)
}

var Module = fx.Module("lock",
	fx.Provide(New),
)
