package auth

import (
	"github.com/pledgeflow/reconciler/internal/auth/repository"
	"github.com/pledgeflow/reconciler/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
