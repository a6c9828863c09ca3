// Package domain models one recurring-pledge installment row, exactly
// durationMonths per subscription.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusReminded   Status = "REMINDED"
	StatusReceived   Status = "RECEIVED"
	StatusMissed     Status = "MISSED"
	StatusAllocated  Status = "ALLOCATED"
)

// Installment is one {subscriptionId}-M{NN} due-date row. ReceiptID links
// to the synthetic Receipt row recordSubscriptionPayment appends so
// balance math is unified across one-time and recurring pledges.
type Installment struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	OrgID            snowflake.ID  `gorm:"not null;index"`
	InstallmentRef   string        `gorm:"type:text;not null;uniqueIndex"`
	SubscriptionID   snowflake.ID  `gorm:"not null;index"`
	MonthNumber      int           `gorm:"not null"`
	DueDate          time.Time     `gorm:"not null;index"`
	Status           Status        `gorm:"type:text;not null;index"`
	ReceiptID        *snowflake.ID
	AmountReceived   int64 `gorm:"not null;default:0"`
	ReceivedDate     *time.Time
	ReminderCount    int `gorm:"not null;default:0"`
	LastReminderDate *time.Time
	ReminderEmailID  *string `gorm:"type:text"`
	ReceiptConfirmID *string `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Installment) TableName() string { return "installments" }
