package readapi

import (
	"github.com/pledgeflow/reconciler/internal/readapi/service"
	"go.uber.org/fx"
)

var Module = fx.Module("readapi.service",
	fx.Provide(service.NewService),
)
