package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Confidence string

const (
	ConfidenceHigh    Confidence = "HIGH"
	ConfidenceMedium  Confidence = "MEDIUM"
	ConfidenceLow     Confidence = "LOW"
	ConfidenceUnknown Confidence = "UNKNOWN"
)

type Status string

const (
	StatusValid           Status = "VALID"
	StatusRequiresReview  Status = "REQUIRES_REVIEW"
	StatusRejected        Status = "REJECTED"
)

// Receipt is immutable once written: no UpdatedAt, matching the ledger
// entry's append-only shape.
type Receipt struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	OrgID             snowflake.ID `gorm:"not null;index"`
	ReceiptRef        string       `gorm:"type:text;not null;uniqueIndex"`
	PledgeID          snowflake.ID `gorm:"not null;index"`
	ProcessedAt       time.Time    `gorm:"not null"`
	EmailDate         time.Time    `gorm:"not null"`
	TransferDate      *time.Time
	DeclaredAmount    int64      `gorm:"not null"`
	VerifiedAmount    int64      `gorm:"not null"`
	Confidence        Confidence `gorm:"type:text;not null"`
	BlobHandle        string     `gorm:"type:text;not null"`
	OriginalFilename  string     `gorm:"type:text;not null"`
	Status            Status     `gorm:"type:text;not null;index"`
	CreatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Receipt) TableName() string { return "receipts" }
