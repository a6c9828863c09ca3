package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	return db.WithContext(ctx).Create(s).Error
}

const selectCols = `id, org_id, subscription_ref, pledge_id, donor_email, donor_name,
	monthly_amount, duration_months, start_date, next_due_date, payments_received,
	amount_received, last_reminder_date, last_receipt_date, status,
	welcome_message_id, completion_message_id, linked_student_ids,
	created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectCols+` FROM subscriptions WHERE org_id = ? AND id = ?`, orgID, id,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectCols+` FROM subscriptions WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectCols+` FROM subscriptions WHERE org_id = ? AND pledge_id = ?`, orgID, pledgeID,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectCols+` FROM subscriptions WHERE org_id = ? AND subscription_ref = ?`, orgID, ref,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status domain.Status) ([]*domain.Subscription, error) {
	query := db.WithContext(ctx).Model(&domain.Subscription{}).Where("org_id = ?", orgID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var subs []*domain.Subscription
	if err := query.Order("created_at asc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			next_due_date = ?, payments_received = ?, amount_received = ?,
			last_reminder_date = ?, last_receipt_date = ?, status = ?,
			completion_message_id = ?, linked_student_ids = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		s.NextDueDate, s.PaymentsReceived, s.AmountReceived,
		s.LastReminderDate, s.LastReceiptDate, s.Status,
		s.CompletionMessageID, s.LinkedStudentIDs, s.UpdatedAt,
		s.OrgID, s.ID,
	).Error
}
