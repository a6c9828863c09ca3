package domain

import (
	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusFunded    Status = "FUNDED"
	StatusGraduated Status = "GRADUATED"
	StatusInactive  Status = "INACTIVE"
)

// Beneficiary holds donor-facing PII (name, gender, school) and lives on
// the Confidential gorm connection only — see internal/readapi, which
// never receives this connection and cannot accidentally select these
// columns.
type Beneficiary struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OrgID         snowflake.ID `gorm:"not null;index"`
	CMSID         string       `gorm:"type:text;not null;uniqueIndex"`
	Name          string       `gorm:"type:text;not null"`
	Gender        string       `gorm:"type:text"`
	School        string       `gorm:"type:text"`
	Degree        string       `gorm:"type:text"`
	HostelContactEmail string `gorm:"type:text;not null"`
	TotalDue      int64        `gorm:"not null"`
	AmountCleared int64        `gorm:"not null;default:0"`
	PendingAmount int64        `gorm:"not null;default:0"`
	Status        Status       `gorm:"type:text;not null;index"`
}

func (Beneficiary) TableName() string { return "beneficiaries" }

// BeneficiaryAggregate is the non-PII projection of Beneficiary that
// lives on the operations store, kept in sync by the allocation service
// whenever it recomputes a beneficiary's totals. The sanitized read API
// reads this table instead of Beneficiary so that it never needs the
// confidential connection at all.
type BeneficiaryAggregate struct {
	OrgID         snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	CMSID         string       `gorm:"primaryKey;type:text"`
	School        string       `gorm:"type:text"`
	TotalDue      int64        `gorm:"not null"`
	AmountCleared int64        `gorm:"not null;default:0"`
	PendingAmount int64        `gorm:"not null;default:0"`
	Status        Status       `gorm:"type:text;not null;index"`
}

func (BeneficiaryAggregate) TableName() string { return "beneficiary_aggregates" }
