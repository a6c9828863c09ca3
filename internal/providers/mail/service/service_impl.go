package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
	maildomain "github.com/pledgeflow/reconciler/internal/providers/mail/domain"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	emailprovider "github.com/pledgeflow/reconciler/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// orgFromCtx resolves the active org, defaulting to 0 (the single-tenant
// case used by the standalone reconciler deployment) when unset.
func orgFromCtx(ctx context.Context) snowflake.ID {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	return orgID
}

// AttachmentCapBytes is the 24 MiB aggregate attachment cap per send.
// Overflow drops the attachments and appends a body note instead of
// failing the send.
const AttachmentCapBytes = 24 * 1024 * 1024

var (
	rfc822Prefix    = "rfc822msgid:"
	internalPrefix  = "id:"
	signatureCutRe  = regexp.MustCompile(`(?mis)^--\s*$.*`)
	quotedLineRe    = regexp.MustCompile(`(?m)^>.*$`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

type Params struct {
	fx.In

	DB    *gorm.DB `name:"operations"`
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  maildomain.Repository
	Email emailprovider.Provider
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  maildomain.Repository
	email emailprovider.Provider
}

func NewService(p Params) mail.Provider {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("mail.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		email: p.Email,
	}
}

func cleanID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, rfc822Prefix)
	trimmed = strings.TrimPrefix(trimmed, internalPrefix)
	return strings.Trim(trimmed, "<> ")
}

func (s *Service) Send(ctx context.Context, to, cc []string, subject, htmlBody string, attachments []mail.Attachment) (string, error) {
	body := htmlBody
	atts, overflow := capAttachments(attachments)
	if overflow {
		body += `<p><em>One or more attachments exceeded the size limit for this message and were omitted. See the blob folder for the full set.</em></p>`
	}

	emailAtts := make([]emailprovider.Attachment, 0, len(atts))
	for _, a := range atts {
		emailAtts = append(emailAtts, emailprovider.Attachment{Filename: a.Filename, Content: a.Content})
	}

	msg := emailprovider.EmailMessage{
		To:          to,
		Subject:     subject,
		HTMLBody:    body,
		Attachments: emailAtts,
	}
	if len(cc) > 0 {
		msg.ReplyTo = strings.Join(cc, ",")
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("mail: send failed: %w", err)
	}

	return s.persistSent(ctx, to, cc, subject, body)
}

func (s *Service) SendOrReply(ctx context.Context, to []string, subject, body string, priorIDs []string) (string, error) {
	for _, raw := range priorIDs {
		id := cleanID(raw)
		if id == "" {
			continue
		}
		msg, err := s.repo.FindMessageByAnyID(ctx, s.db, orgFromCtx(ctx), id)
		if err != nil {
			return "", err
		}
		if msg == nil {
			continue
		}
		thread, err := s.repo.FindThreadByID(ctx, s.db, orgFromCtx(ctx), msg.ThreadID)
		if err != nil || thread == nil {
			continue
		}
		cc := splitAddrs(msg.CCAddrs)
		if err := s.email.Send(ctx, emailprovider.EmailMessage{To: append(append([]string{}, to...), cc...), Subject: subject, HTMLBody: body}); err != nil {
			return "", fmt.Errorf("mail: reply failed: %w", err)
		}
		return s.persistReply(ctx, thread, to, cc, subject, body)
	}
	return s.Send(ctx, to, nil, subject, body, nil)
}

func (s *Service) Search(ctx context.Context, headerID string) (*mail.Thread, error) {
	id := cleanID(headerID)
	if id == "" {
		return nil, nil
	}
	msg, err := s.repo.FindMessageByAnyID(ctx, s.db, orgFromCtx(ctx), id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	thread, err := s.repo.FindThreadByID(ctx, s.db, orgFromCtx(ctx), msg.ThreadID)
	if err != nil || thread == nil {
		return nil, err
	}
	return &mail.Thread{ThreadID: thread.ID.String()}, nil
}

func (s *Service) IngestInbound(ctx context.Context, in mail.InboundMessage) (*mail.Thread, error) {
	orgID := orgFromCtx(ctx)

	var thread *maildomain.MailThread
	for _, raw := range append([]string{in.RFC822ID}, in.InReplyTo...) {
		id := cleanID(raw)
		if id == "" {
			continue
		}
		msg, err := s.repo.FindMessageByAnyID(ctx, s.db, orgID, id)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		thread, err = s.repo.FindThreadByID(ctx, s.db, orgID, msg.ThreadID)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			break
		}
	}

	if thread == nil {
		threadKey := in.Subject + "|" + strings.Join(append([]string{in.From}, in.To...), ",")
		var err error
		thread, err = s.repo.FindThreadByKey(ctx, s.db, orgID, threadKey)
		if err != nil {
			return nil, err
		}
		if thread == nil {
			thread = &maildomain.MailThread{
				ID:        s.genID.Generate(),
				OrgID:     orgID,
				ThreadKey: threadKey,
				Subject:   in.Subject,
				CreatedAt: s.clock.Now(),
			}
			if err := s.repo.InsertThread(ctx, s.db, thread); err != nil {
				return nil, err
			}
		}
	}

	sentAt := s.clock.Now()
	if in.SentAt != "" {
		if parsed, err := time.Parse(time.RFC3339, in.SentAt); err == nil {
			sentAt = parsed
		}
	}

	msgID := s.genID.Generate()
	var rfc822ID *string
	if id := cleanID(in.RFC822ID); id != "" {
		rfc822ID = &id
	}
	m := &maildomain.MailMessage{
		ID:        msgID,
		OrgID:     orgID,
		ThreadID:  thread.ID,
		MessageID: "id:" + msgID.String(),
		RFC822ID:  rfc822ID,
		Direction: maildomain.DirectionInbound,
		FromAddr:  in.From,
		ToAddrs:   strings.Join(in.To, ","),
		CCAddrs:   strings.Join(in.CC, ","),
		Subject:   in.Subject,
		BodyText:  in.Body,
		SentAt:    sentAt,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertMessage(ctx, s.db, m); err != nil {
		return nil, err
	}
	for _, a := range in.Attachments {
		att := &maildomain.MailAttachment{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			MessageID: msgID,
			Filename:  a.Filename,
			MIMEType:  a.MIMEType,
			Content:   a.Content,
			CreatedAt: s.clock.Now(),
		}
		if err := s.repo.InsertAttachment(ctx, s.db, att); err != nil {
			return nil, err
		}
	}

	return &mail.Thread{ThreadID: thread.ID.String()}, nil
}

func (s *Service) GetThreadContext(ctx context.Context, thread *mail.Thread, maxHistory int) (*mail.ThreadContext, error) {
	if thread == nil {
		return nil, nil
	}
	id, err := snowflake.ParseString(thread.ThreadID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessagesByThread(ctx, s.db, orgFromCtx(ctx), id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return &mail.ThreadContext{}, nil
	}

	last := msgs[len(msgs)-1]
	current := s.toMessageWithAttachments(ctx, last)
	current.Body = cleanBody(current.Body)

	history := make([]mail.Message, 0, maxHistory)
	for i := len(msgs) - 2; i >= 0 && len(history) < maxHistory; i-- {
		m := toMessage(msgs[i])
		m.Body = cleanBody(m.Body)
		history = append(history, m)
	}

	var b strings.Builder
	b.WriteString("CURRENT:\n")
	b.WriteString(current.Body)
	if len(history) > 0 {
		b.WriteString("\n\nHISTORY:\n")
		for _, h := range history {
			b.WriteString(h.Body)
			b.WriteString("\n---\n")
		}
	}

	return &mail.ThreadContext{Current: current, History: history, Combined: b.String()}, nil
}

func cleanBody(body string) string {
	body = signatureCutRe.ReplaceAllString(body, "")
	body = quotedLineRe.ReplaceAllString(body, "")
	body = blankRunRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

// toMessageWithAttachments is used only for the CURRENT message, since
// that is the only one the AI Oracle needs attachment bytes for.
func (s *Service) toMessageWithAttachments(ctx context.Context, m *maildomain.MailMessage) mail.Message {
	msg := toMessage(m)
	atts, err := s.repo.ListAttachmentsByMessage(ctx, s.db, orgFromCtx(ctx), m.ID)
	if err != nil {
		s.log.Warn("mail: load attachments failed", zap.Error(err))
		return msg
	}
	for _, a := range atts {
		msg.Attachments = append(msg.Attachments, mail.Attachment{Filename: a.Filename, MIMEType: a.MIMEType, Content: a.Content})
	}
	return msg
}

func toMessage(m *maildomain.MailMessage) mail.Message {
	return mail.Message{
		MessageID: m.MessageID,
		From:      m.FromAddr,
		To:        splitAddrs(m.ToAddrs),
		CC:        splitAddrs(m.CCAddrs),
		Subject:   m.Subject,
		Body:      m.BodyText,
		SentAt:    m.SentAt.Format(time.RFC3339),
	}
}

func splitAddrs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) GetOrCreateLabel(ctx context.Context, name string) (string, error) {
	label, err := s.repo.GetOrCreateLabel(ctx, s.db, &maildomain.MailLabel{
		ID:    s.genID.Generate(),
		OrgID: orgFromCtx(ctx),
		Name:  name,
	})
	if err != nil {
		return "", err
	}
	return label.ID.String(), nil
}

func (s *Service) AddLabel(ctx context.Context, thread *mail.Thread, label string) error {
	threadID, err := snowflake.ParseString(thread.ThreadID)
	if err != nil {
		return err
	}
	labelID, err := s.GetOrCreateLabel(ctx, label)
	if err != nil {
		return err
	}
	lid, err := snowflake.ParseString(labelID)
	if err != nil {
		return err
	}
	return s.repo.AddLabel(ctx, s.db, orgFromCtx(ctx), threadID, lid)
}

func (s *Service) RemoveLabel(ctx context.Context, thread *mail.Thread, label string) error {
	threadID, err := snowflake.ParseString(thread.ThreadID)
	if err != nil {
		return err
	}
	labelID, err := s.GetOrCreateLabel(ctx, label)
	if err != nil {
		return err
	}
	lid, err := snowflake.ParseString(labelID)
	if err != nil {
		return err
	}
	return s.repo.RemoveLabel(ctx, s.db, orgFromCtx(ctx), threadID, lid)
}

func (s *Service) ThreadHasLabel(ctx context.Context, thread *mail.Thread, label string) (bool, error) {
	threadID, err := snowflake.ParseString(thread.ThreadID)
	if err != nil {
		return false, err
	}
	return s.repo.ThreadHasLabel(ctx, s.db, orgFromCtx(ctx), threadID, label)
}

func (s *Service) ThreadsByLabel(ctx context.Context, label string, excludeLabels []string) ([]*mail.Thread, error) {
	ids, err := s.repo.ListThreadIDsByLabel(ctx, s.db, orgFromCtx(ctx), label, excludeLabels)
	if err != nil {
		return nil, err
	}
	threads := make([]*mail.Thread, 0, len(ids))
	for _, id := range ids {
		threads = append(threads, &mail.Thread{ThreadID: id.String()})
	}
	return threads, nil
}

func (s *Service) persistSent(ctx context.Context, to, cc []string, subject, body string) (string, error) {
	orgID := orgFromCtx(ctx)
	threadKey := subject + "|" + strings.Join(to, ",")
	thread, err := s.repo.FindThreadByKey(ctx, s.db, orgID, threadKey)
	if err != nil {
		return "", err
	}
	if thread == nil {
		thread = &maildomain.MailThread{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			ThreadKey: threadKey,
			Subject:   subject,
			CreatedAt: s.clock.Now(),
		}
		if err := s.repo.InsertThread(ctx, s.db, thread); err != nil {
			return "", err
		}
	}
	return s.insertMessage(ctx, thread, to, cc, subject, body)
}

func (s *Service) persistReply(ctx context.Context, thread *maildomain.MailThread, to, cc []string, subject, body string) (string, error) {
	return s.insertMessage(ctx, thread, to, cc, subject, body)
}

func (s *Service) insertMessage(ctx context.Context, thread *maildomain.MailThread, to, cc []string, subject, body string) (string, error) {
	id := s.genID.Generate()
	messageID := "id:" + id.String()
	m := &maildomain.MailMessage{
		ID:        id,
		OrgID:     orgFromCtx(ctx),
		ThreadID:  thread.ID,
		MessageID: messageID,
		Direction: maildomain.DirectionOutbound,
		FromAddr:  "system",
		ToAddrs:   strings.Join(to, ","),
		CCAddrs:   strings.Join(cc, ","),
		Subject:   subject,
		BodyText:  body,
		SentAt:    s.clock.Now(),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertMessage(ctx, s.db, m); err != nil {
		return "", err
	}
	return messageID, nil
}

func capAttachments(attachments []mail.Attachment) ([]mail.Attachment, bool) {
	var total int64
	kept := make([]mail.Attachment, 0, len(attachments))
	overflow := false
	for _, a := range attachments {
		total += int64(len(a.Content))
		if total > AttachmentCapBytes {
			overflow = true
			continue
		}
		kept = append(kept, a)
	}
	return kept, overflow
}
