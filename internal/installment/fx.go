package installment

import (
	"github.com/pledgeflow/reconciler/internal/installment/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("installment.repository",
	fx.Provide(repository.Provide),
)
