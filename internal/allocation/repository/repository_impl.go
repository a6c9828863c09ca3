package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/allocation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, alloc *domain.Allocation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO allocations (
			id, org_id, alloc_ref, cms_id, pledge_id, verified_total_at_commit, amount, status,
			hostel_intimation_message_id, hostel_intimation_at, donor_alloc_message_id, donor_alloc_at,
			hostel_reply_message_id, hostel_reply_at, donor_notify_message_id, donor_notify_at,
			batch_id, installment_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alloc.ID, alloc.OrgID, alloc.AllocRef, alloc.CMSID, alloc.PledgeID,
		alloc.VerifiedTotalAtCommit, alloc.Amount, alloc.Status,
		alloc.HostelIntimationMessageID, alloc.HostelIntimationAt,
		alloc.DonorAllocMessageID, alloc.DonorAllocAt,
		alloc.HostelReplyMessageID, alloc.HostelReplyAt,
		alloc.DonorNotifyMessageID, alloc.DonorNotifyAt,
		alloc.BatchID, alloc.InstallmentID, alloc.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Allocation, error) {
	var alloc domain.Allocation
	err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id).First(&alloc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

func (r *repo) FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) ([]*domain.Allocation, error) {
	var allocs []*domain.Allocation
	err := db.WithContext(ctx).
		Where("org_id = ? AND pledge_id = ?", orgID, pledgeID).
		Order("created_at asc").
		Find(&allocs).Error
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

func (r *repo) SumByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM allocations WHERE org_id = ? AND pledge_id = ? AND status <> ?`,
		orgID, pledgeID, domain.StatusCancelled,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) SumPendingByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM allocations WHERE org_id = ? AND cms_id = ? AND status <> ? AND status <> ?`,
		orgID, cmsID, domain.StatusCancelled, domain.StatusCompleted,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) SumByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM allocations WHERE org_id = ? AND cms_id = ? AND status <> ?`,
		orgID, cmsID, domain.StatusCancelled,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) FindByBatchID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, batchID string) ([]*domain.Allocation, error) {
	var allocs []*domain.Allocation
	err := db.WithContext(ctx).
		Where("org_id = ? AND batch_id = ?", orgID, batchID).
		Order("created_at asc").
		Find(&allocs).Error
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

func (r *repo) FindByHostelIntimationMessageIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []string) ([]*domain.Allocation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var allocs []*domain.Allocation
	err := db.WithContext(ctx).
		Where("org_id = ? AND hostel_intimation_message_id IN ?", orgID, ids).
		Find(&allocs).Error
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

func (r *repo) FindPendingHostelByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) ([]*domain.Allocation, error) {
	var allocs []*domain.Allocation
	err := db.WithContext(ctx).
		Where("org_id = ? AND cms_id = ? AND status = ?", orgID, cmsID, domain.StatusPendingHostel).
		Order("created_at asc").
		Find(&allocs).Error
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

func (r *repo) FindAllPendingHostel(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.Allocation, error) {
	var allocs []*domain.Allocation
	err := db.WithContext(ctx).
		Where("org_id = ? AND status = ?", orgID, domain.StatusPendingHostel).
		Order("created_at asc").
		Find(&allocs).Error
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

func (r *repo) UpdateStatusAndReply(ctx context.Context, db *gorm.DB, alloc *domain.Allocation) error {
	return db.WithContext(ctx).Exec(
		`UPDATE allocations SET status = ?, hostel_reply_message_id = ?, hostel_reply_at = ?,
		 donor_notify_message_id = ?, donor_notify_at = ? WHERE org_id = ? AND id = ?`,
		alloc.Status, alloc.HostelReplyMessageID, alloc.HostelReplyAt,
		alloc.DonorNotifyMessageID, alloc.DonorNotifyAt, alloc.OrgID, alloc.ID,
	).Error
}
