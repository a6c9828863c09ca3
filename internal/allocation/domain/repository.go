package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alloc *Allocation) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Allocation, error)
	FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) ([]*Allocation, error)
	SumByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error)
	SumPendingByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (int64, error)
	SumByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (int64, error)
	FindByBatchID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, batchID string) ([]*Allocation, error)
	FindByHostelIntimationMessageIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []string) ([]*Allocation, error)
	FindPendingHostelByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) ([]*Allocation, error)
	FindAllPendingHostel(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Allocation, error)
	UpdateStatusAndReply(ctx context.Context, db *gorm.DB, alloc *Allocation) error
}
