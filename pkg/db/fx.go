package db

import (
	"github.com/pledgeflow/reconciler/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func toDBConfig(c config.DBConfig) Config {
	return Config{
		Type:     c.Type,
		Host:     c.Host,
		Port:     c.Port,
		Name:     c.Name,
		User:     c.User,
		Password: c.Password,
		SSLMode:  c.SSLMode,
	}
}

// OperationsResult tags the Operations-store connection (pledges,
// receipts, allocations, subscriptions, installments, mail, audit) for
// fx.In consumers that need to pick it out from the Confidential one.
type OperationsResult struct {
	fx.Out

	DB *gorm.DB `name:"operations"`
}

// ConfidentialResult tags the Confidential-store connection (beneficiary
// PII only).
type ConfidentialResult struct {
	fx.Out

	DB *gorm.DB `name:"confidential"`
}

func NewOperations(cfg config.Config) (OperationsResult, error) {
	dialector, err := Dialect(toDBConfig(cfg.Operations), "operations.db")
	if err != nil {
		return OperationsResult{}, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return OperationsResult{}, err
	}
	return OperationsResult{DB: conn}, nil
}

func NewConfidential(cfg config.Config) (ConfidentialResult, error) {
	dialector, err := Dialect(toDBConfig(cfg.Confidential), "confidential.db")
	if err != nil {
		return ConfidentialResult{}, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return ConfidentialResult{}, err
	}
	return ConfidentialResult{DB: conn}, nil
}

var Module = fx.Module("db",
	fx.Provide(NewOperations),
	fx.Provide(NewConfidential),
)
