package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/receipt/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, receipt *domain.Receipt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO receipts (
			id, org_id, receipt_ref, pledge_id, processed_at, email_date, transfer_date,
			declared_amount, verified_amount, confidence, blob_handle, original_filename,
			status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.ID, receipt.OrgID, receipt.ReceiptRef, receipt.PledgeID, receipt.ProcessedAt,
		receipt.EmailDate, receipt.TransferDate, receipt.DeclaredAmount, receipt.VerifiedAmount,
		receipt.Confidence, receipt.BlobHandle, receipt.OriginalFilename, receipt.Status,
		receipt.CreatedAt,
	).Error
}

func (r *repo) FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) ([]*domain.Receipt, error) {
	var receipts []*domain.Receipt
	err := db.WithContext(ctx).
		Where("org_id = ? AND pledge_id = ?", orgID, pledgeID).
		Order("created_at asc").
		Find(&receipts).Error
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

func (r *repo) SumVerified(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(verified_amount), 0) FROM receipts WHERE org_id = ? AND pledge_id = ? AND status = ?`,
		orgID, pledgeID, domain.StatusValid,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) CountByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT count(*) FROM receipts WHERE org_id = ? AND pledge_id = ?`, orgID, pledgeID,
	).Scan(&count).Error
	return count, err
}
