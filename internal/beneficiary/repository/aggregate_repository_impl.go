package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/beneficiary/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type aggregateRepo struct{}

func ProvideAggregate() domain.AggregateRepository {
	return &aggregateRepo{}
}

func (r *aggregateRepo) Upsert(ctx context.Context, db *gorm.DB, a *domain.BeneficiaryAggregate) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "cms_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"school", "total_due", "amount_cleared", "pending_amount", "status"}),
	}).Create(a).Error
}

func (r *aggregateRepo) FindByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (*domain.BeneficiaryAggregate, error) {
	var a domain.BeneficiaryAggregate
	err := db.WithContext(ctx).Where("org_id = ? AND cms_id = ?", orgID, cmsID).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *aggregateRepo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.BeneficiaryAggregate, error) {
	var out []*domain.BeneficiaryAggregate
	err := db.WithContext(ctx).Where("org_id = ?", orgID).Order("cms_id asc").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
