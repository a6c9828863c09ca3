package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/providers/mail/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertThread(ctx context.Context, db *gorm.DB, t *domain.MailThread) error {
	return db.WithContext(ctx).Create(t).Error
}

func (r *repo) FindThreadByKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.MailThread, error) {
	var t domain.MailThread
	err := db.WithContext(ctx).Where("org_id = ? AND thread_key = ?", orgID, key).First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repo) FindThreadByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.MailThread, error) {
	var t domain.MailThread
	err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id).First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repo) InsertMessage(ctx context.Context, db *gorm.DB, m *domain.MailMessage) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) FindMessageByAnyID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, id string) (*domain.MailMessage, error) {
	var m domain.MailMessage
	err := db.WithContext(ctx).
		Where("org_id = ? AND (message_id = ? OR message_id = ? OR rfc822_id = ?)", orgID, id, "id:"+id, id).
		First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repo) ListMessagesByThread(ctx context.Context, db *gorm.DB, orgID, threadID snowflake.ID) ([]*domain.MailMessage, error) {
	var msgs []*domain.MailMessage
	err := db.WithContext(ctx).
		Where("org_id = ? AND thread_id = ?", orgID, threadID).
		Order("sent_at asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *repo) FindMessagesByMessageIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []string) ([]*domain.MailMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []*domain.MailMessage
	err := db.WithContext(ctx).
		Where("org_id = ? AND (message_id IN ? OR rfc822_id IN ?)", orgID, ids, ids).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *repo) InsertAttachment(ctx context.Context, db *gorm.DB, a *domain.MailAttachment) error {
	return db.WithContext(ctx).Create(a).Error
}

func (r *repo) ListAttachmentsByMessage(ctx context.Context, db *gorm.DB, orgID, messageID snowflake.ID) ([]*domain.MailAttachment, error) {
	var atts []*domain.MailAttachment
	err := db.WithContext(ctx).
		Where("org_id = ? AND message_id = ?", orgID, messageID).
		Order("id asc").
		Find(&atts).Error
	if err != nil {
		return nil, err
	}
	return atts, nil
}

func (r *repo) GetOrCreateLabel(ctx context.Context, db *gorm.DB, candidate *domain.MailLabel) (*domain.MailLabel, error) {
	var l domain.MailLabel
	err := db.WithContext(ctx).Where("org_id = ? AND name = ?", candidate.OrgID, candidate.Name).First(&l).Error
	if err == nil {
		return &l, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	if err := db.WithContext(ctx).Create(candidate).Error; err != nil {
		// Lost a create race against another process; fetch the winner.
		if fetchErr := db.WithContext(ctx).Where("org_id = ? AND name = ?", candidate.OrgID, candidate.Name).First(&l).Error; fetchErr == nil {
			return &l, nil
		}
		return nil, err
	}
	return candidate, nil
}

func (r *repo) AddLabel(ctx context.Context, db *gorm.DB, orgID, threadID, labelID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO mail_thread_labels (thread_id, label_id, org_id, applied_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (thread_id, label_id) DO NOTHING`,
		threadID, labelID, orgID,
	).Error
}

func (r *repo) RemoveLabel(ctx context.Context, db *gorm.DB, orgID, threadID, labelID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM mail_thread_labels WHERE org_id = ? AND thread_id = ? AND label_id = ?`,
		orgID, threadID, labelID,
	).Error
}

func (r *repo) ThreadHasLabel(ctx context.Context, db *gorm.DB, orgID, threadID snowflake.ID, name string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT count(*) FROM mail_thread_labels tl
		 JOIN mail_labels l ON l.id = tl.label_id
		 WHERE tl.org_id = ? AND tl.thread_id = ? AND l.name = ?`,
		orgID, threadID, name,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) ListThreadIDsByLabel(ctx context.Context, db *gorm.DB, orgID snowflake.ID, name string, excludeLabels []string) ([]snowflake.ID, error) {
	query := db.WithContext(ctx).Raw(
		`SELECT tl.thread_id FROM mail_thread_labels tl
		 JOIN mail_labels l ON l.id = tl.label_id
		 WHERE tl.org_id = ? AND l.name = ?
		 AND tl.thread_id NOT IN (
			SELECT tl2.thread_id FROM mail_thread_labels tl2
			JOIN mail_labels l2 ON l2.id = tl2.label_id
			WHERE tl2.org_id = ? AND l2.name IN ?
		 )`,
		orgID, name, orgID, nonEmpty(excludeLabels),
	)
	var ids []snowflake.ID
	if err := query.Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func nonEmpty(labels []string) []string {
	if len(labels) == 0 {
		return []string{"__none__"}
	}
	return labels
}
