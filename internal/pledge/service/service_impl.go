// Package service implements the inbound pledge-form webhook: it mints a
// Pledge row, sends the donor's confirmation email, and routes to the
// subscription engine when the donor chose recurring giving.
package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/idgen"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	"github.com/pledgeflow/reconciler/internal/providers/template"
	subscriptiondomain "github.com/pledgeflow/reconciler/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const recurringPledgeType = "Monthly Recurring"

func orgFromCtx(ctx context.Context) snowflake.ID {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	return orgID
}

type Params struct {
	fx.In

	DB    *gorm.DB `name:"operations"`
	Log   *zap.Logger
	GenID *idgen.Generator
	Clock clock.Clock
	Cfg   config.Config

	PledgeRepo       pledgedomain.Repository
	SubscriptionSvc  subscriptiondomain.Service
	AuditService     auditdomain.Service

	Mail     mail.Provider
	Renderer template.Renderer
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *idgen.Generator
	clock clock.Clock
	cfg   config.Config

	pledgeRepo      pledgedomain.Repository
	subscriptionSvc subscriptiondomain.Service
	audit           auditdomain.Service

	mail     mail.Provider
	renderer template.Renderer
}

func NewService(p Params) pledgedomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("pledge.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		cfg:             p.Cfg,
		pledgeRepo:      p.PledgeRepo,
		subscriptionSvc: p.SubscriptionSvc,
		audit:           p.AuditService,
		mail:            p.Mail,
		renderer:        p.Renderer,
	}
}

func (s *Service) IngestForm(ctx context.Context, event pledgedomain.FormEvent) (*pledgedomain.IngestResult, error) {
	orgID := orgFromCtx(ctx)
	if event.DonorEmail == "" || event.DonorName == "" {
		return nil, pledgedomain.ErrInvalidFormEvent
	}

	now := s.clock.Now()
	submittedAt := event.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = now
	}

	committedAmount := resolveCommittedAmount(event.Duration, s.cfg.PledgeAmounts)
	if event.PledgeType == recurringPledgeType {
		committedAmount = event.MonthlyAmount * int64(event.MonthlyDuration)
	}
	if committedAmount <= 0 {
		return nil, pledgedomain.ErrInvalidFormEvent
	}

	year := submittedAt.Year()
	count, err := s.pledgeRepo.CountByYear(ctx, s.db, orgID, year)
	if err != nil {
		return nil, fmt.Errorf("pledge: count by year: %w", err)
	}
	pledgeRef := idgen.NewPledgeRef(year, count+1)

	pledge := &pledgedomain.Pledge{
		ID:              s.genID.NextID(),
		OrgID:           orgID,
		PledgeRef:       pledgeRef,
		DonorEmail:      event.DonorEmail,
		DonorName:       event.DonorName,
		Chapter:         event.Chapter,
		Affiliation:     event.Affiliation,
		ZakatFlag:       event.ZakatFlag,
		DurationCode:    event.Duration,
		CommittedAmount: committedAmount,
		Status:          pledgedomain.PledgeStatusPledged,
		SubmittedAt:     submittedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	rendered, err := s.renderer.Render(ctx, template.RenderInput{
		TemplateName: "pledge_confirmation",
		Data: map[string]string{
			"donorName":       event.DonorName,
			"pledgeRef":       pledgeRef,
			"committedAmount": fmt.Sprintf("%d", committedAmount),
			"mailtoLink":      "http://SEND_CONFIRMATION_EMAIL",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pledge: render confirmation email: %w", err)
	}
	to := append([]string{event.DonorEmail}, s.cfg.AlwaysCC...)
	confirmationMessageID, err := s.mail.Send(ctx, to, nil, rendered.Subject, rendered.HTMLBody, nil)
	if err != nil {
		return nil, fmt.Errorf("pledge: send confirmation email: %w", err)
	}
	pledge.ConfirmationMessageID = &confirmationMessageID

	if err := s.pledgeRepo.Insert(ctx, s.db, pledge); err != nil {
		return nil, fmt.Errorf("pledge: insert: %w", err)
	}

	s.audit.Record(ctx, auditdomain.Entry{
		OrgID:      orgID,
		ActorType:  auditdomain.ActorTypeSystem,
		Kind:       auditdomain.KindNewPledge,
		TargetType: "pledge",
		TargetID:   pledgeRef,
		Action:     "pledge_created",
		After:      map[string]any{"committedAmount": committedAmount, "pledgeType": event.PledgeType},
	})

	result := &pledgedomain.IngestResult{PledgeRef: pledgeRef}

	if event.PledgeType == recurringPledgeType {
		sub, serr := s.subscriptionSvc.Create(ctx, subscriptiondomain.CreateRequest{
			PledgeID:         pledgeRef,
			DonorEmail:       event.DonorEmail,
			DonorName:        event.DonorName,
			MonthlyAmount:    event.MonthlyAmount,
			DurationMonths:   event.MonthlyDuration,
			StartDate:        submittedAt,
			LinkedStudentIDs: event.LinkedStudentIDs,
		})
		if serr != nil {
			s.log.Warn("pledge ingest: subscription creation failed", zap.Error(serr))
		} else {
			result.SubscriptionRef = sub.SubscriptionRef
		}
	}

	return result, nil
}
