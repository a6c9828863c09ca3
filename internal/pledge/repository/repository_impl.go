package repository

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/pledge/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pledge *domain.Pledge) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pledges (
			id, org_id, pledge_ref, donor_email, donor_name, chapter, affiliation,
			zakat_flag, duration_code, committed_amount, status, submitted_at,
			confirmation_message_id, receipt_message_id, verified_total,
			actual_transfer_date, date_proof_received, ai_comments, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pledge.ID, pledge.OrgID, pledge.PledgeRef, pledge.DonorEmail, pledge.DonorName,
		pledge.Chapter, pledge.Affiliation, pledge.ZakatFlag, pledge.DurationCode,
		pledge.CommittedAmount, pledge.Status, pledge.SubmittedAt,
		pledge.ConfirmationMessageID, pledge.ReceiptMessageID, pledge.VerifiedTotal,
		pledge.ActualTransferDate, pledge.DateProofReceived, pledge.AIComments,
		pledge.Metadata, pledge.CreatedAt, pledge.UpdatedAt,
	).Error
}

const selectCols = `id, org_id, pledge_ref, donor_email, donor_name, chapter, affiliation,
	zakat_flag, duration_code, committed_amount, status, submitted_at,
	confirmation_message_id, receipt_message_id, verified_total,
	actual_transfer_date, date_proof_received, ai_comments, metadata,
	created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Pledge, error) {
	var pledge domain.Pledge
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectCols+` FROM pledges WHERE org_id = ? AND id = ?`, orgID, id,
	).Scan(&pledge).Error
	if err != nil {
		return nil, err
	}
	if pledge.ID == 0 {
		return nil, nil
	}
	return &pledge, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Pledge, error) {
	var pledge domain.Pledge
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectCols+` FROM pledges WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id,
	).Scan(&pledge).Error
	if err != nil {
		return nil, err
	}
	if pledge.ID == 0 {
		return nil, nil
	}
	return &pledge, nil
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*domain.Pledge, error) {
	var pledge domain.Pledge
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectCols+` FROM pledges WHERE org_id = ? AND pledge_ref = ?`, orgID, ref,
	).Scan(&pledge).Error
	if err != nil {
		return nil, err
	}
	if pledge.ID == 0 {
		return nil, nil
	}
	return &pledge, nil
}

func (r *repo) CountByYear(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT count(*) FROM pledges WHERE org_id = ? AND pledge_ref LIKE ?`,
		orgID, "PLEDGE-"+strconv.Itoa(year)+"-%",
	).Scan(&count).Error
	return count, err
}

func (r *repo) UpdateStatusAndTotals(ctx context.Context, db *gorm.DB, pledge *domain.Pledge) error {
	return db.WithContext(ctx).Exec(
		`UPDATE pledges SET
			status = ?, verified_total = ?, actual_transfer_date = ?,
			date_proof_received = ?, ai_comments = ?, receipt_message_id = ?,
			updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		pledge.Status, pledge.VerifiedTotal, pledge.ActualTransferDate,
		pledge.DateProofReceived, pledge.AIComments, pledge.ReceiptMessageID,
		pledge.UpdatedAt, pledge.OrgID, pledge.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]*domain.Pledge, error) {
	var pledges []*domain.Pledge
	stmt := db.WithContext(ctx).Model(&domain.Pledge{}).Where("org_id = ?", orgID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Chapter != "" {
		stmt = stmt.Where("chapter = ?", filter.Chapter)
	}
	stmt = stmt.Order("submitted_at desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Find(&pledges).Error; err != nil {
		return nil, err
	}
	return pledges, nil
}
