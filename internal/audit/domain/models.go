package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind enumerates the audit event vocabulary.
type Kind string

const (
	KindNewPledge           Kind = "NEW_PLEDGE"
	KindReceiptProcessed    Kind = "RECEIPT_PROCESSED"
	KindAllocation          Kind = "ALLOCATION"
	KindHostelVerification  Kind = "HOSTEL_VERIFICATION"
	KindHostelQuery         Kind = "HOSTEL_QUERY"
	KindStatusChange        Kind = "STATUS_CHANGE"
	KindAlert               Kind = "ALERT"
	KindSubscriptionCreated Kind = "SUBSCRIPTION_CREATED"
	KindSubscriptionPayment Kind = "SUBSCRIPTION_PAYMENT"
	KindSubscriptionLapsed  Kind = "SUBSCRIPTION_LAPSED"
	KindSubscriptionComplete Kind = "SUBSCRIPTION_COMPLETED"
	KindAPIKey              Kind = "API_KEY"
	KindUserAuth            Kind = "USER_AUTH"
	KindAuthorization       Kind = "AUTHORIZATION"
)

// ActorType distinguishes who/what performed a business action.
type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeScheduler ActorType = "scheduler"
	ActorTypeAPIKey    ActorType = "api_key"
	ActorTypeUser      ActorType = "user"
)

// AuditLog is the append-only row: eight columns (timestamp, actor,
// eventType, targetId, action, previousValue, newValue, metadataJSON).
// "action" here doubles as a human label (e.g. "status_transition")
// while Kind carries the enumerated event type.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      snowflake.ID      `gorm:"not null;index"`
	ActorType  ActorType         `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Kind       Kind              `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   string            `gorm:"type:text;not null;index"`
	Action     string            `gorm:"type:text;not null"`
	Before     datatypes.JSONMap `gorm:"type:jsonb"`
	After      datatypes.JSONMap `gorm:"type:jsonb"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;index;default:CURRENT_TIMESTAMP"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// DiagnosticLog is the secondary sink for a simple rule: audit writes
// never fail the enclosing business operation, so a failed audit insert
// degrades here instead of propagating.
type DiagnosticLog struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Source    string       `gorm:"type:text;not null"`
	Message   string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DiagnosticLog) TableName() string { return "diagnostic_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID      snowflake.ID
	Kind       Kind
	TargetType string
	TargetID   string
	ActorType  ActorType
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
