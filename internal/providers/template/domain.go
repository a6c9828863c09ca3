// Package template fetches a named mail template, substitutes {{key}}
// placeholders, and produces a {subject, htmlBody} pair wrapped for
// mobile readability, backed by a mail_templates table keyed by name.
package template

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// MailTemplate is a human-editable {subject, htmlBody} pair addressed by
// name, e.g. "pledge_confirmation" or "hostel_intimation".
type MailTemplate struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_mail_templates_org_name,priority:1"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_mail_templates_org_name,priority:2"`
	Subject   string       `gorm:"type:text;not null"`
	HTMLBody  string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MailTemplate) TableName() string { return "mail_templates" }

type Repository interface {
	FindByName(ctx context.Context, db *gorm.DB, orgID snowflake.ID, name string) (*MailTemplate, error)
	Upsert(ctx context.Context, db *gorm.DB, t *MailTemplate) error
}

// RenderInput is a template handle (by name) plus the substitution map.
type RenderInput struct {
	TemplateName string
	Data         map[string]string
}

// RenderOutput is the rendered {subject, htmlBody} result.
type RenderOutput struct {
	Subject  string
	HTMLBody string
}

// Renderer renders a named template against a substitution map.
type Renderer interface {
	Render(ctx context.Context, input RenderInput) (*RenderOutput, error)
}
