// Package domain models the mail gateway's persistence shape: every
// sent/received message and the thread and labels it belongs to. The
// mailbox is treated as an opaque, search-by-header external system;
// this module owns the subset of that state it must remember (ids it
// minted, threads it can reply into, labels it has applied) so
// Search/GetThreadContext/label operations are real queries rather than
// an in-memory map that doesn't survive a restart.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// MailThread groups messages that share a conversation. ThreadKey is the
// opaque handle the underlying mailbox uses (subject + participants in
// this rewrite's SMTP-backed implementation).
type MailThread struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	ThreadKey string       `gorm:"type:text;not null;uniqueIndex"`
	Subject   string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MailThread) TableName() string { return "mail_threads" }

// MailMessage is one sent or observed-inbound message. MessageID is the
// value callers store on business rows and later pass back into
// Search/SendOrReply; RFC822ID holds the header form when known, so both
// "rfc822msgid:<...>" and the internal "id:<...>" forms resolve to the
// same row.
type MailMessage struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index"`
	ThreadID   snowflake.ID `gorm:"not null;index"`
	MessageID  string       `gorm:"type:text;not null;uniqueIndex"`
	RFC822ID   *string      `gorm:"type:text;index"`
	Direction  Direction    `gorm:"type:text;not null"`
	FromAddr   string       `gorm:"type:text;not null"`
	ToAddrs    string       `gorm:"type:text;not null"`
	CCAddrs    string       `gorm:"type:text"`
	Subject    string       `gorm:"type:text;not null"`
	BodyText   string       `gorm:"type:text;not null"`
	SentAt     time.Time    `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MailMessage) TableName() string { return "mail_messages" }

// MailAttachment is a file carried by an inbound or outbound message.
// Content holds the raw bytes directly; bank receipts and IDs are small
// enough against the gateway's 24 MiB aggregate cap that a separate blob
// reference buys nothing here.
type MailAttachment struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	MessageID snowflake.ID `gorm:"not null;index"`
	Filename  string       `gorm:"type:text;not null"`
	MIMEType  string       `gorm:"type:text;not null"`
	Content   []byte       `gorm:"type:bytea;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MailAttachment) TableName() string { return "mail_attachments" }

// MailLabel is a named tag a thread can carry, e.g.
// "Receipts/To-Process" or "Watchdog/Processed".
type MailLabel struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_mail_labels_org_name,priority:1"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_mail_labels_org_name,priority:2"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MailLabel) TableName() string { return "mail_labels" }

// MailThreadLabel is the join row recording that a label is currently
// applied to a thread.
type MailThreadLabel struct {
	ThreadID  snowflake.ID `gorm:"primaryKey"`
	LabelID   snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	AppliedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MailThreadLabel) TableName() string { return "mail_thread_labels" }
