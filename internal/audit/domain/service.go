package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
	InsertDiagnostic(ctx context.Context, db *gorm.DB, entry *DiagnosticLog) error
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Kind       Kind
	TargetType string
	TargetID   string
	ActorType  ActorType
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Entry is the write-side payload for Service.Record. Before/After hold
// the pre/post state of whatever row the business action mutated; either
// may be nil for events with no prior state (e.g. NEW_PLEDGE).
type Entry struct {
	OrgID      snowflake.ID
	ActorType  ActorType
	ActorID    string
	Kind       Kind
	TargetType string
	TargetID   string
	Action     string
	Before     map[string]any
	After      map[string]any
	Metadata   map[string]any
}

// Service is the audit log's write+read surface. Record never returns an
// error that would make a caller abort its enclosing business
// transaction: failures degrade to a warning log plus a best-effort
// diagnostic row.
type Service interface {
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, orgID snowflake.ID, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("audit: invalid organization")
	ErrInvalidPageToken    = errors.New("audit: invalid page token")
	ErrInvalidTimeRange    = errors.New("audit: invalid time range")
)
