package mail

import (
	"github.com/pledgeflow/reconciler/internal/providers/mail/repository"
	"github.com/pledgeflow/reconciler/internal/providers/mail/service"
	"go.uber.org/fx"
)

var Module = fx.Module("mail.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
