package migration

import (
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Operations   *gorm.DB `name:"operations"`
	Confidential *gorm.DB `name:"confidential"`
	Cfg          config.Config
}

var Module = fx.Module("migrations",
	fx.Invoke(func(p Params) error {
		opsDB, err := p.Operations.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(opsDB); err != nil {
			return err
		}

		confDB, err := p.Confidential.DB()
		if err != nil {
			return err
		}
		if err := RunConfidentialMigrations(confDB); err != nil {
			return err
		}

		if p.Cfg.DefaultOrgID != 0 {
			if err := seed.EnsureMainOrgWithID(p.Operations, p.Cfg.DefaultOrgID); err != nil {
				return err
			}
		} else {
			if err := seed.EnsureMainOrg(p.Operations); err != nil {
				return err
			}
		}
		if !p.Cfg.IsCloud() && p.Cfg.Bootstrap.EnsureDefaultOrgAndUser {
			return seed.EnsureMainOrgAndAdmin(p.Operations)
		}
		return nil
	}),
)
