package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertThread(ctx context.Context, db *gorm.DB, t *MailThread) error
	FindThreadByKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*MailThread, error)
	FindThreadByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*MailThread, error)

	InsertMessage(ctx context.Context, db *gorm.DB, m *MailMessage) error
	FindMessageByAnyID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, id string) (*MailMessage, error)
	ListMessagesByThread(ctx context.Context, db *gorm.DB, orgID, threadID snowflake.ID) ([]*MailMessage, error)
	FindMessagesByMessageIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []string) ([]*MailMessage, error)

	InsertAttachment(ctx context.Context, db *gorm.DB, a *MailAttachment) error
	ListAttachmentsByMessage(ctx context.Context, db *gorm.DB, orgID, messageID snowflake.ID) ([]*MailAttachment, error)

	GetOrCreateLabel(ctx context.Context, db *gorm.DB, candidate *MailLabel) (*MailLabel, error)
	AddLabel(ctx context.Context, db *gorm.DB, orgID, threadID, labelID snowflake.ID) error
	RemoveLabel(ctx context.Context, db *gorm.DB, orgID, threadID, labelID snowflake.ID) error
	ThreadHasLabel(ctx context.Context, db *gorm.DB, orgID, threadID snowflake.ID, name string) (bool, error)
	ListThreadIDsByLabel(ctx context.Context, db *gorm.DB, orgID snowflake.ID, name string, excludeLabels []string) ([]snowflake.ID, error)
}
