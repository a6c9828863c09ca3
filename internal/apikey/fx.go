package apikey

import (
	"github.com/pledgeflow/reconciler/internal/apikey/repository"
	"github.com/pledgeflow/reconciler/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
