package subscription

import (
	"github.com/pledgeflow/reconciler/internal/subscription/repository"
	"github.com/pledgeflow/reconciler/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
