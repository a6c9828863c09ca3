package allocation

import (
	"github.com/pledgeflow/reconciler/internal/allocation/repository"
	"github.com/pledgeflow/reconciler/internal/allocation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("allocation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
