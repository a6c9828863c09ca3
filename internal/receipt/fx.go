package receipt

import (
	"github.com/pledgeflow/reconciler/internal/receipt/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("receipt.repository",
	fx.Provide(repository.Provide),
)
