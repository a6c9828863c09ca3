package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect resolves a gorm.Dialector for one logical connection (Operations
// or Confidential — the two-store split that keeps beneficiary PII off the
// operations database). Takes a plain Config rather than internal/config.Config
// so this package never imports back into internal/.
func Dialect(cfg Config, sqlitePath string) (gorm.Dialector, error) {
	switch cfg.Type {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case "sqlite":
		if sqlitePath == "" {
			sqlitePath = "gorm.db"
		}
		return sqlite.Open(sqlitePath), nil
	default:
		return nil, fmt.Errorf("unsupported %s db type", cfg.Type)
	}
}
