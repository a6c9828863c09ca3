package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/installment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, installments []*domain.Installment) error {
	if len(installments) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&installments).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Installment, error) {
	var inst domain.Installment
	err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id).First(&inst).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) ([]*domain.Installment, error) {
	var installments []*domain.Installment
	err := db.WithContext(ctx).
		Where("org_id = ? AND subscription_id = ?", orgID, subscriptionID).
		Order("month_number asc").
		Find(&installments).Error
	if err != nil {
		return nil, err
	}
	return installments, nil
}

// FindOldestPayable is recordSubscriptionPayment's FIFO match: the oldest
// installment in {PENDING, REMINDED, MISSED} for the subscription.
func (r *repo) FindOldestPayable(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*domain.Installment, error) {
	var inst domain.Installment
	err := db.WithContext(ctx).
		Where("org_id = ? AND subscription_id = ? AND status IN ?", orgID, subscriptionID,
			[]domain.Status{domain.StatusPending, domain.StatusReminded, domain.StatusMissed}).
		Order("month_number asc").
		First(&inst).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// FindDueForSweep returns every installment the daily reminder/overdue
// sweep must inspect: anything not yet RECEIVED or ALLOCATED.
func (r *repo) FindDueForSweep(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.Installment, error) {
	var installments []*domain.Installment
	err := db.WithContext(ctx).
		Where("org_id = ? AND status IN ?", orgID,
			[]domain.Status{domain.StatusPending, domain.StatusReminded, domain.StatusMissed}).
		Find(&installments).Error
	if err != nil {
		return nil, err
	}
	return installments, nil
}

func (r *repo) FindReceivedInMonth(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int, month int) ([]*domain.Installment, error) {
	var installments []*domain.Installment
	err := db.WithContext(ctx).
		Where("org_id = ? AND status = ? AND extract(year from received_date) = ? AND extract(month from received_date) = ?",
			orgID, domain.StatusReceived, year, month).
		Find(&installments).Error
	if err != nil {
		return nil, err
	}
	return installments, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, installment *domain.Installment) error {
	return db.WithContext(ctx).Save(installment).Error
}
