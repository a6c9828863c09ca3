package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPendingHostel       Status = "PENDING_HOSTEL"
	StatusHostelQuery         Status = "HOSTEL_QUERY"
	StatusHostelVerified      Status = "HOSTEL_VERIFIED"
	StatusStudentVerification Status = "STUDENT_VERIFICATION"
	StatusDisputed            Status = "DISPUTED"
	StatusCompleted           Status = "COMPLETED"
	StatusCancelled           Status = "CANCELLED"
)

// Allocation records one transfer of verified pledge cash to a beneficiary.
// It threads three message ids (hostel intimation, donor notification,
// hostel reply) that the Verification Watchdog correlates inbound mail
// against.
type Allocation struct {
	ID                        snowflake.ID `gorm:"primaryKey"`
	OrgID                     snowflake.ID `gorm:"not null;index"`
	AllocRef                  string       `gorm:"type:text;not null;uniqueIndex"`
	CMSID                     string       `gorm:"type:text;not null;index"`
	PledgeID                  snowflake.ID `gorm:"not null;index"`
	VerifiedTotalAtCommit     int64        `gorm:"not null"`
	Amount                    int64        `gorm:"not null"`
	Status                    Status       `gorm:"type:text;not null;index"`
	HostelIntimationMessageID *string      `gorm:"type:text;index"`
	HostelIntimationAt        *time.Time
	DonorAllocMessageID       *string `gorm:"type:text"`
	DonorAllocAt              *time.Time
	HostelReplyMessageID      *string `gorm:"type:text"`
	HostelReplyAt             *time.Time
	DonorNotifyMessageID      *string `gorm:"type:text"`
	DonorNotifyAt             *time.Time
	BatchID                   *string `gorm:"type:text;index"`
	InstallmentID             *string `gorm:"type:text;index"`
	CreatedAt                 time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Allocation) TableName() string { return "allocations" }
