package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, installments []*Installment) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Installment, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) ([]*Installment, error)
	FindOldestPayable(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*Installment, error)
	FindDueForSweep(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Installment, error)
	FindReceivedInMonth(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int, month int) ([]*Installment, error)
	Update(ctx context.Context, db *gorm.DB, installment *Installment) error
}
