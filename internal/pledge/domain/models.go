package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PledgeStatus is the pledge lifecycle state. Transitions are validated by
// internal/ledgerengine's adjacency map, never by this package.
type PledgeStatus string

const (
	PledgeStatusPledged            PledgeStatus = "PLEDGED"
	PledgeStatusPartialReceipt     PledgeStatus = "PARTIAL_RECEIPT"
	PledgeStatusProofSubmitted     PledgeStatus = "PROOF_SUBMITTED"
	PledgeStatusVerified           PledgeStatus = "VERIFIED"
	PledgeStatusPartiallyAllocated PledgeStatus = "PARTIALLY_ALLOCATED"
	PledgeStatusFullyAllocated     PledgeStatus = "FULLY_ALLOCATED"
	PledgeStatusRejected           PledgeStatus = "REJECTED"
	PledgeStatusCancelled          PledgeStatus = "CANCELLED"
	PledgeStatusClosed             PledgeStatus = "CLOSED"
)

// Pledge is the top-level commitment row. CashBalance and Outstanding are
// never persisted: internal/ledgerengine recomputes them on every read from
// VerifiedTotal and the sum of this pledge's allocations.
type Pledge struct {
	ID                     snowflake.ID      `gorm:"primaryKey"`
	OrgID                  snowflake.ID      `gorm:"not null;index"`
	PledgeRef              string            `gorm:"type:text;not null;uniqueIndex"`
	DonorEmail             string            `gorm:"type:text;not null;index"`
	DonorName              string            `gorm:"type:text;not null"`
	Chapter                string            `gorm:"type:text"`
	Affiliation            string            `gorm:"type:text"`
	ZakatFlag              bool              `gorm:"not null;default:false"`
	DurationCode           string            `gorm:"type:text"`
	CommittedAmount        int64             `gorm:"not null"`
	Status                 PledgeStatus      `gorm:"type:text;not null;index"`
	SubmittedAt            time.Time         `gorm:"not null"`
	ConfirmationMessageID  *string           `gorm:"type:text"`
	ReceiptMessageID       *string           `gorm:"type:text"`
	VerifiedTotal          int64             `gorm:"not null;default:0"`
	ActualTransferDate     *time.Time
	DateProofReceived      *time.Time
	AIComments             *string           `gorm:"type:text"`
	Metadata               datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Pledge) TableName() string { return "pledges" }
