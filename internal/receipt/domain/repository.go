package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, receipt *Receipt) error
	FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) ([]*Receipt, error)
	SumVerified(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error)
	CountByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error)
}
