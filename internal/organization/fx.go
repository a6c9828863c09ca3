package organization

import (
	"github.com/pledgeflow/reconciler/internal/organization/event"
	"github.com/pledgeflow/reconciler/internal/organization/repository"
	"github.com/pledgeflow/reconciler/internal/organization/service"
	"github.com/pledgeflow/reconciler/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	email.Module,
	fx.Provide(repository.NewRepository),
	fx.Provide(event.NewOutboxPublisher),
	fx.Provide(service.NewService),
)
