package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/beneficiary/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, b *domain.Beneficiary) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO beneficiaries (
			id, org_id, cms_id, name, gender, school, degree, hostel_contact_email,
			total_due, amount_cleared, pending_amount, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OrgID, b.CMSID, b.Name, b.Gender, b.School, b.Degree, b.HostelContactEmail,
		b.TotalDue, b.AmountCleared, b.PendingAmount, b.Status,
	).Error
}

func (r *repo) FindByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	err := db.WithContext(ctx).Where("org_id = ? AND cms_id = ?", orgID, cmsID).First(&b).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repo) FindByCMSIDForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND cms_id = ?", orgID, cmsID).
		First(&b).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, b *domain.Beneficiary) error {
	return db.WithContext(ctx).Exec(
		`UPDATE beneficiaries SET amount_cleared = ?, pending_amount = ?, status = ?
		 WHERE org_id = ? AND id = ?`,
		b.AmountCleared, b.PendingAmount, b.Status, b.OrgID, b.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.Beneficiary, error) {
	var beneficiaries []*domain.Beneficiary
	err := db.WithContext(ctx).Where("org_id = ?", orgID).Order("cms_id asc").Find(&beneficiaries).Error
	if err != nil {
		return nil, err
	}
	return beneficiaries, nil
}
