package template

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func ProvideRepository() Repository {
	return &repo{}
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, orgID snowflake.ID, name string) (*MailTemplate, error) {
	var t MailTemplate
	err := db.WithContext(ctx).Where("org_id = ? AND name = ?", orgID, name).First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, t *MailTemplate) error {
	existing, err := r.FindByName(ctx, db, t.OrgID, t.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		return db.WithContext(ctx).Create(t).Error
	}
	return db.WithContext(ctx).Model(&MailTemplate{}).
		Where("org_id = ? AND name = ?", t.OrgID, t.Name).
		Updates(map[string]interface{}{
			"subject":    t.Subject,
			"html_body":  t.HTMLBody,
			"updated_at": t.UpdatedAt,
		}).Error
}
