package template

import (
	"context"
	"fmt"
	"regexp"

	"github.com/pledgeflow/reconciler/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)
	mailtoSentinelRe   = regexp.MustCompile(`(?i)(?:https?://[^\s"'<>]*?)?SEND_CONFIRMATION_EMAIL(?:[^\s"'<>]*)?`)
)

// mobileShell wraps rendered HTML in a fixed-width table so mail clients
// that ignore CSS max-width still constrain the body to 600px, matching
// html_renderer.go's .invoice-card container technique.
const mobileShell = `<table role="presentation" width="100%%" cellpadding="0" cellspacing="0" style="background:#f7f9fc;">
<tr><td align="center">
<table role="presentation" width="600" cellpadding="0" cellspacing="0" style="max-width:600px;width:100%%;background:#ffffff;">
<tr><td style="padding:24px;">
%s
</td></tr>
</table>
</td></tr>
</table>`

type Params struct {
	fx.In

	DB   *gorm.DB `name:"operations"`
	Log  *zap.Logger
	Repo Repository
}

type service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo Repository
}

func NewRenderer(p Params) Renderer {
	return &service{db: p.DB, log: p.Log.Named("template.renderer"), repo: p.Repo}
}

func (s *service) Render(ctx context.Context, input RenderInput) (*RenderOutput, error) {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	tmpl, err := s.repo.FindByName(ctx, s.db, orgID, input.TemplateName)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template: unknown template %q", input.TemplateName)
	}

	subject := substitute(tmpl.Subject, input.Data)
	body := substitute(tmpl.HTMLBody, input.Data)
	body = fmt.Sprintf(mobileShell, body)

	return &RenderOutput{Subject: subject, HTMLBody: body}, nil
}

// substitute resolves the mailtoLink sentinel first, then walks {{key}}
// placeholders once. Keys absent from data are left untouched rather than
// replaced with empty strings or causing a panic.
func substitute(text string, data map[string]string) string {
	if link, ok := data["mailtoLink"]; ok {
		text = mailtoSentinelRe.ReplaceAllString(text, link)
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if val, ok := data[key]; ok {
			return val
		}
		return match
	})
}
