package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, pledge *Pledge) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Pledge, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Pledge, error)
	FindByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*Pledge, error)
	CountByYear(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int) (int64, error)
	UpdateStatusAndTotals(ctx context.Context, db *gorm.DB, pledge *Pledge) error
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]*Pledge, error)
}

type ListFilter struct {
	Status  PledgeStatus
	Chapter string
	Limit   int
}
