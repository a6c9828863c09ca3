// Package domain models the recurring-pledge subscription engine: at
// most one subscription per recurring pledge, one row per donor, paired
// with durationMonths installment rows owned by the sibling
// internal/installment package.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusOverdue   Status = "OVERDUE"
	StatusLapsed    Status = "LAPSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusPaused    Status = "PAUSED"
)

// Subscription is the recurring-pledge row. SubscriptionRef equals its
// originating pledge's PledgeRef by construction (subscriptionId =
// pledgeId). LinkedStudentIDs is a comma-list, editable when the
// allowStudentChange config permits it.
type Subscription struct {
	ID                  snowflake.ID `gorm:"primaryKey"`
	OrgID               snowflake.ID `gorm:"not null;index"`
	SubscriptionRef     string       `gorm:"type:text;not null;uniqueIndex"`
	PledgeID            snowflake.ID `gorm:"not null;uniqueIndex"`
	DonorEmail          string       `gorm:"type:text;not null"`
	DonorName           string       `gorm:"type:text;not null"`
	MonthlyAmount       int64        `gorm:"not null"`
	DurationMonths      int          `gorm:"not null"`
	StartDate           time.Time    `gorm:"not null"`
	NextDueDate         time.Time    `gorm:"not null;index"`
	PaymentsReceived    int          `gorm:"not null;default:0"`
	AmountReceived      int64        `gorm:"not null;default:0"`
	LastReminderDate    *time.Time
	LastReceiptDate     *time.Time
	Status              Status  `gorm:"type:text;not null;index"`
	WelcomeMessageID    *string `gorm:"type:text"`
	CompletionMessageID *string `gorm:"type:text"`
	LinkedStudentIDs    string  `gorm:"type:text;not null;default:''"`
	CreatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }
