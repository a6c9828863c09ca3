package pledge

import (
	"github.com/pledgeflow/reconciler/internal/pledge/repository"
	"github.com/pledgeflow/reconciler/internal/pledge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pledge.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
