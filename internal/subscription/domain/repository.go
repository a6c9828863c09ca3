package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (*Subscription, error)
	FindByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status Status) ([]*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}
