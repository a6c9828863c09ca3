package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, b *Beneficiary) error
	FindByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (*Beneficiary, error)
	FindByCMSIDForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (*Beneficiary, error)
	UpdateTotals(ctx context.Context, db *gorm.DB, b *Beneficiary) error
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Beneficiary, error)
}

// AggregateRepository reads and writes BeneficiaryAggregate on the
// Operations store. It is a separate interface from Repository (which is
// bound to the Confidential connection) so that a caller's store choice
// is visible at the call site rather than hidden behind one fat
// interface that happens to work with either *gorm.DB.
type AggregateRepository interface {
	Upsert(ctx context.Context, db *gorm.DB, a *BeneficiaryAggregate) error
	FindByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (*BeneficiaryAggregate, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*BeneficiaryAggregate, error)
}
