package beneficiary

import (
	"github.com/pledgeflow/reconciler/internal/beneficiary/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("beneficiary.repository",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideAggregate),
)
