// Package service implements the subscription engine: creating a
// recurring pledge's installment schedule, the daily reminder/overdue
// sweep, FIFO payment recording, and the monthly allocation batch.
// RecordPayment and MonthlyAllocationBatch are critical sections and run
// inside the same "alloc" lock the allocation service uses: both
// eventually call allocation/domain.Service.ProcessBatchAllocation,
// which takes that lock itself, so neither of them takes it a second
// time here.
package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/idgen"
	"github.com/pledgeflow/reconciler/internal/ledgerengine"
	installmentdomain "github.com/pledgeflow/reconciler/internal/installment/domain"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	"github.com/pledgeflow/reconciler/internal/providers/template"
	receiptdomain "github.com/pledgeflow/reconciler/internal/receipt/domain"
	subscriptiondomain "github.com/pledgeflow/reconciler/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func orgFromCtx(ctx context.Context) snowflake.ID {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	return orgID
}

type Params struct {
	fx.In

	DB     *gorm.DB `name:"operations"`
	Log    *zap.Logger
	GenID  *idgen.Generator
	Clock  clock.Clock
	Cfg    config.Config
	Engine *ledgerengine.Engine

	SubscriptionRepo subscriptiondomain.Repository
	InstallmentRepo  installmentdomain.Repository
	PledgeRepo       pledgedomain.Repository
	ReceiptRepo      receiptdomain.Repository
	AuditService     auditdomain.Service
	AllocationService allocdomain.Service

	Mail     mail.Provider
	Renderer template.Renderer
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *idgen.Generator
	clock  clock.Clock
	cfg    config.Config
	engine *ledgerengine.Engine

	subscriptionRepo subscriptiondomain.Repository
	installmentRepo  installmentdomain.Repository
	pledgeRepo       pledgedomain.Repository
	receiptRepo      receiptdomain.Repository
	audit            auditdomain.Service
	allocationSvc    allocdomain.Service

	mail     mail.Provider
	renderer template.Renderer
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("subscription.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		cfg:              p.Cfg,
		engine:           p.Engine,
		subscriptionRepo: p.SubscriptionRepo,
		installmentRepo:  p.InstallmentRepo,
		pledgeRepo:       p.PledgeRepo,
		receiptRepo:      p.ReceiptRepo,
		audit:            p.AuditService,
		allocationSvc:    p.AllocationService,
		mail:             p.Mail,
		renderer:         p.Renderer,
	}
}

// Create sends a welcome email, then writes one subscription row plus
// durationMonths installment rows; the email's message id is captured on
// both the subscription and the originating pledge.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	orgID := orgFromCtx(ctx)
	if req.MonthlyAmount <= 0 || req.DurationMonths <= 0 {
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	pledge, err := s.pledgeRepo.FindByRef(ctx, s.db, orgID, req.PledgeID)
	if err != nil {
		return nil, fmt.Errorf("subscription: load pledge: %w", err)
	}
	if pledge == nil {
		return nil, pledgedomain.ErrPledgeNotFoundForSubscription
	}

	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:               s.genID.NextID(),
		OrgID:            orgID,
		SubscriptionRef:  pledge.PledgeRef,
		PledgeID:         pledge.ID,
		DonorEmail:       req.DonorEmail,
		DonorName:        req.DonorName,
		MonthlyAmount:    req.MonthlyAmount,
		DurationMonths:   req.DurationMonths,
		StartDate:        req.StartDate,
		NextDueDate:      req.StartDate,
		Status:           subscriptiondomain.StatusActive,
		LinkedStudentIDs: strings.Join(req.LinkedStudentIDs, ","),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	installments := make([]*installmentdomain.Installment, 0, req.DurationMonths)
	for m := 1; m <= req.DurationMonths; m++ {
		installments = append(installments, &installmentdomain.Installment{
			ID:             s.genID.NextID(),
			OrgID:          orgID,
			InstallmentRef: idgen.NewInstallmentRef(sub.SubscriptionRef, m),
			MonthNumber:    m,
			DueDate:        req.StartDate.AddDate(0, m-1, 0),
			Status:         installmentdomain.StatusPending,
			CreatedAt:      now,
		})
	}

	rendered, err := s.renderer.Render(ctx, template.RenderInput{
		TemplateName: "subscription_welcome",
		Data: map[string]string{
			"donorName":      req.DonorName,
			"monthlyAmount":  fmt.Sprintf("%d", req.MonthlyAmount),
			"durationMonths": strconv.Itoa(req.DurationMonths),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("subscription: render welcome email: %w", err)
	}
	welcomeMessageID, err := s.mail.Send(ctx, []string{req.DonorEmail}, nil, rendered.Subject, rendered.HTMLBody, nil)
	if err != nil {
		return nil, fmt.Errorf("subscription: send welcome email: %w", err)
	}
	sub.WelcomeMessageID = &welcomeMessageID

	if err := s.subscriptionRepo.Insert(ctx, s.db, sub); err != nil {
		return nil, fmt.Errorf("subscription: insert: %w", err)
	}
	// The installments' SubscriptionID foreign key is only known once the
	// subscription row exists; set it now and persist.
	for _, inst := range installments {
		inst.SubscriptionID = sub.ID
	}
	if err := s.installmentRepo.InsertBatch(ctx, s.db, installments); err != nil {
		return nil, fmt.Errorf("subscription: insert installments: %w", err)
	}

	if pledge.ConfirmationMessageID == nil {
		pledge.ConfirmationMessageID = &welcomeMessageID
		if err := s.pledgeRepo.UpdateStatusAndTotals(ctx, s.db, pledge); err != nil {
			s.log.Warn("subscription create: stamp pledge confirmation id failed", zap.Error(err))
		}
	}

	s.audit.Record(ctx, auditdomain.Entry{
		OrgID:      orgID,
		ActorType:  auditdomain.ActorTypeSystem,
		Kind:       auditdomain.KindSubscriptionCreated,
		TargetType: "subscription",
		TargetID:   sub.SubscriptionRef,
		Action:     "subscription_created",
		After:      map[string]any{"monthlyAmount": req.MonthlyAmount, "durationMonths": req.DurationMonths},
	})

	return sub, nil
}

func daysSince(clockNow, t time.Time) int {
	return int(clockNow.Sub(t).Hours() / 24)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// DailySweep runs the 09:00-local sweep: per-installment
// reminders and missed transitions, per-subscription overdue/lapsed
// transitions. It does not take the "alloc" lock: every write here is a
// monotonic state advance keyed by a single installment or subscription
// row, not a shared-balance critical section.
func (s *Service) DailySweep(ctx context.Context) (*subscriptiondomain.DailySweepResult, error) {
	orgID := orgFromCtx(ctx)
	now := s.clock.Now()
	result := &subscriptiondomain.DailySweepResult{}

	due, err := s.installmentRepo.FindDueForSweep(ctx, s.db, orgID)
	if err != nil {
		return nil, fmt.Errorf("subscription: find due installments: %w", err)
	}
	maxReminders := s.cfg.MaxReminders
	missedDays := s.cfg.InstallmentMissedDays

	for _, inst := range due {
		elapsed := daysSince(now, inst.DueDate)
		switch {
		case elapsed >= missedDays:
			if inst.Status != installmentdomain.StatusMissed {
				inst.Status = installmentdomain.StatusMissed
				if err := s.installmentRepo.Update(ctx, s.db, inst); err != nil {
					s.log.Warn("sweep: mark installment missed failed", zap.Error(err))
					continue
				}
				result.InstallmentsMissed++
			}
		case containsInt(s.cfg.ReminderDaysSinceDue, elapsed) && inst.ReminderCount < maxReminders:
			if s.sendInstallmentReminder(ctx, orgID, inst) {
				result.RemindersSent++
			}
		}
	}

	subs, err := s.subscriptionRepo.List(ctx, s.db, orgID, "")
	if err != nil {
		return nil, fmt.Errorf("subscription: list subscriptions: %w", err)
	}
	for _, sub := range subs {
		if sub.Status != subscriptiondomain.StatusActive && sub.Status != subscriptiondomain.StatusOverdue {
			continue
		}
		elapsed := daysSince(now, sub.NextDueDate)
		var target subscriptiondomain.Status
		switch {
		case elapsed >= s.cfg.LapsedThresholdDays:
			target = subscriptiondomain.StatusLapsed
		case elapsed >= s.cfg.OverdueThresholdDays:
			target = subscriptiondomain.StatusOverdue
		default:
			continue
		}
		if target == sub.Status {
			continue
		}
		if verr := s.engine.Validator().Subscription(sub.Status, target); verr != nil {
			s.log.Warn("sweep: invalid subscription transition", zap.Error(verr))
			continue
		}
		sub.Status = target
		sub.UpdatedAt = now
		if err := s.subscriptionRepo.Update(ctx, s.db, sub); err != nil {
			s.log.Warn("sweep: update subscription status failed", zap.Error(err))
			continue
		}
		if target == subscriptiondomain.StatusOverdue {
			result.TransitionedToOverdue++
		} else {
			result.TransitionedToLapsed++
			s.audit.Record(ctx, auditdomain.Entry{
				OrgID:      orgID,
				ActorType:  auditdomain.ActorTypeScheduler,
				Kind:       auditdomain.KindSubscriptionLapsed,
				TargetType: "subscription",
				TargetID:   sub.SubscriptionRef,
				Action:     "subscription_lapsed",
			})
		}
	}

	return result, nil
}

func (s *Service) sendInstallmentReminder(ctx context.Context, orgID snowflake.ID, inst *installmentdomain.Installment) bool {
	sub, err := s.subscriptionRepo.FindByID(ctx, s.db, orgID, inst.SubscriptionID)
	if err != nil || sub == nil {
		s.log.Warn("sweep: load subscription for reminder failed", zap.Error(err))
		return false
	}
	rendered, err := s.renderer.Render(ctx, template.RenderInput{
		TemplateName: "installment_reminder",
		Data: map[string]string{
			"donorName":      sub.DonorName,
			"monthlyAmount":  fmt.Sprintf("%d", sub.MonthlyAmount),
			"installmentRef": inst.InstallmentRef,
		},
	})
	if err != nil {
		s.log.Warn("sweep: render reminder failed", zap.Error(err))
		return false
	}
	var priorIDs []string
	if sub.WelcomeMessageID != nil {
		priorIDs = append(priorIDs, *sub.WelcomeMessageID)
	}
	messageID, err := s.mail.SendOrReply(ctx, []string{sub.DonorEmail}, rendered.Subject, rendered.HTMLBody, priorIDs)
	if err != nil {
		s.log.Warn("sweep: send reminder failed", zap.Error(err))
		return false
	}
	now := s.clock.Now()
	inst.ReminderCount++
	inst.LastReminderDate = &now
	inst.ReminderEmailID = &messageID
	if inst.Status == installmentdomain.StatusPending {
		inst.Status = installmentdomain.StatusReminded
	}
	if err := s.installmentRepo.Update(ctx, s.db, inst); err != nil {
		s.log.Warn("sweep: persist reminder failed", zap.Error(err))
		return false
	}
	return true
}

// RecordPayment implements recordSubscriptionPayment: the FIFO oldest
// payable installment receives the payment, a synthetic VALID receipt is
// appended to the originating pledge so balance math stays unified
// across one-time and recurring cash, and the subscription
// completes if this was its last installment.
func (s *Service) RecordPayment(ctx context.Context, req subscriptiondomain.RecordPaymentRequest) error {
	orgID := orgFromCtx(ctx)

	sub, err := s.subscriptionRepo.FindByRef(ctx, s.db, orgID, req.SubscriptionID)
	if err != nil {
		return fmt.Errorf("subscription: load subscription: %w", err)
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	inst, err := s.installmentRepo.FindOldestPayable(ctx, s.db, orgID, sub.ID)
	if err != nil {
		return fmt.Errorf("subscription: find oldest payable installment: %w", err)
	}
	if inst == nil {
		return subscriptiondomain.ErrNoPayableInstallment
	}

	pledge, err := s.pledgeRepo.FindByID(ctx, s.db, orgID, sub.PledgeID)
	if err != nil {
		return fmt.Errorf("subscription: load pledge: %w", err)
	}
	if pledge == nil {
		return fmt.Errorf("subscription: originating pledge %d not found", sub.PledgeID)
	}

	now := s.clock.Now()
	receiptRef := idgen.NewReceiptRef(pledge.PledgeRef, sub.PaymentsReceived+1)
	receipt := &receiptdomain.Receipt{
		ID:               s.genID.NextID(),
		OrgID:            orgID,
		ReceiptRef:       receiptRef,
		PledgeID:         pledge.ID,
		ProcessedAt:      now,
		EmailDate:        req.ReceivedDate,
		DeclaredAmount:   req.AmountReceived,
		VerifiedAmount:   req.AmountReceived,
		Confidence:       receiptdomain.ConfidenceHigh,
		BlobHandle:       req.BlobHandle,
		OriginalFilename: req.OriginalFilename,
		Status:           receiptdomain.StatusValid,
		CreatedAt:        now,
	}
	if err := s.insertReceipt(ctx, receipt); err != nil {
		return fmt.Errorf("subscription: insert synthetic receipt: %w", err)
	}

	pledge.VerifiedTotal += req.AmountReceived
	if pledge.DateProofReceived == nil {
		pledge.DateProofReceived = &now
	}
	pledge.ActualTransferDate = &req.ReceivedDate
	newPledgeStatus := pledgedomain.PledgeStatusPartialReceipt
	if pledge.VerifiedTotal >= pledge.CommittedAmount {
		newPledgeStatus = pledgedomain.PledgeStatusProofSubmitted
	}
	if verr := s.engine.Validator().Pledge(pledge.Status, newPledgeStatus); verr == nil {
		pledge.Status = newPledgeStatus
	}
	pledge.UpdatedAt = now
	if err := s.pledgeRepo.UpdateStatusAndTotals(ctx, s.db, pledge); err != nil {
		return fmt.Errorf("subscription: update pledge totals: %w", err)
	}

	inst.Status = installmentdomain.StatusReceived
	inst.ReceiptID = &receipt.ID
	inst.AmountReceived = req.AmountReceived
	inst.ReceivedDate = &req.ReceivedDate
	inst.ReceiptConfirmID = strPtrOrNil(req.EmailMessageID)
	if err := s.installmentRepo.Update(ctx, s.db, inst); err != nil {
		return fmt.Errorf("subscription: update installment: %w", err)
	}

	sub.PaymentsReceived++
	sub.AmountReceived += req.AmountReceived
	sub.LastReceiptDate = &now
	sub.NextDueDate = sub.NextDueDate.AddDate(0, 1, 0)
	if sub.Status == subscriptiondomain.StatusOverdue || sub.Status == subscriptiondomain.StatusLapsed {
		if verr := s.engine.Validator().Subscription(sub.Status, subscriptiondomain.StatusActive); verr == nil {
			sub.Status = subscriptiondomain.StatusActive
		}
	}

	completed := sub.PaymentsReceived >= sub.DurationMonths
	if completed {
		if verr := s.engine.Validator().Subscription(sub.Status, subscriptiondomain.StatusCompleted); verr == nil {
			sub.Status = subscriptiondomain.StatusCompleted
		}
		rendered, rerr := s.renderer.Render(ctx, template.RenderInput{
			TemplateName: "subscription_completed",
			Data: map[string]string{
				"donorName":      sub.DonorName,
				"durationMonths": strconv.Itoa(sub.DurationMonths),
			},
		})
		if rerr != nil {
			s.log.Warn("subscription completion: render failed", zap.Error(rerr))
		} else {
			var priorIDs []string
			if sub.WelcomeMessageID != nil {
				priorIDs = append(priorIDs, *sub.WelcomeMessageID)
			}
			messageID, serr := s.mail.SendOrReply(ctx, []string{sub.DonorEmail}, rendered.Subject, rendered.HTMLBody, priorIDs)
			if serr != nil {
				s.log.Warn("subscription completion: send failed", zap.Error(serr))
			} else {
				sub.CompletionMessageID = &messageID
			}
		}
	}
	sub.UpdatedAt = now
	if err := s.subscriptionRepo.Update(ctx, s.db, sub); err != nil {
		return fmt.Errorf("subscription: update subscription: %w", err)
	}

	kind := auditdomain.KindSubscriptionPayment
	if completed {
		kind = auditdomain.KindSubscriptionComplete
	}
	s.audit.Record(ctx, auditdomain.Entry{
		OrgID:      orgID,
		ActorType:  auditdomain.ActorTypeSystem,
		Kind:       kind,
		TargetType: "subscription",
		TargetID:   sub.SubscriptionRef,
		Action:     "installment_payment_recorded",
		After:      map[string]any{"installmentRef": inst.InstallmentRef, "amount": req.AmountReceived},
	})

	return nil
}

func (s *Service) insertReceipt(ctx context.Context, receipt *receiptdomain.Receipt) error {
	return s.receiptRepo.Insert(ctx, s.db, receipt)
}

func strPtrOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// MonthlyAllocationBatch groups this month's RECEIVED installments by
// subscription, then runs one batch allocation per subscription split
// across its linked students.
func (s *Service) MonthlyAllocationBatch(ctx context.Context, year int, month int) ([]subscriptiondomain.MonthlyBatchResult, error) {
	orgID := orgFromCtx(ctx)

	received, err := s.installmentRepo.FindReceivedInMonth(ctx, s.db, orgID, year, month)
	if err != nil {
		return nil, fmt.Errorf("subscription: find received installments: %w", err)
	}

	bySubscription := make(map[snowflake.ID][]*installmentdomain.Installment)
	for _, inst := range received {
		bySubscription[inst.SubscriptionID] = append(bySubscription[inst.SubscriptionID], inst)
	}

	var results []subscriptiondomain.MonthlyBatchResult
	for subID, insts := range bySubscription {
		sub, err := s.subscriptionRepo.FindByID(ctx, s.db, orgID, subID)
		if err != nil || sub == nil {
			s.log.Warn("monthly batch: load subscription failed", zap.Error(err))
			continue
		}

		students := strings.FieldsFunc(sub.LinkedStudentIDs, func(r rune) bool { return r == ',' })
		if len(students) == 0 {
			results = append(results, subscriptiondomain.MonthlyBatchResult{
				SubscriptionRef: sub.SubscriptionRef, Allocated: false, Reason: "no linked students",
			})
			s.audit.Record(ctx, auditdomain.Entry{
				OrgID:      orgID,
				ActorType:  auditdomain.ActorTypeScheduler,
				Kind:       auditdomain.KindAlert,
				TargetType: "subscription",
				TargetID:   sub.SubscriptionRef,
				Action:     "monthly_batch_no_linked_students",
			})
			continue
		}

		pledge, err := s.pledgeRepo.FindByID(ctx, s.db, orgID, sub.PledgeID)
		if err != nil || pledge == nil {
			s.log.Warn("monthly batch: load pledge failed", zap.Error(err))
			continue
		}

		targets := make([]allocdomain.StudentTarget, 0, len(students))
		for _, cmsID := range students {
			targets = append(targets, allocdomain.StudentTarget{CMSID: strings.TrimSpace(cmsID)})
		}

		installmentRef := insts[0].InstallmentRef
		batchResult, err := s.allocationSvc.ProcessBatchAllocation(ctx, allocdomain.BatchRequest{
			PledgeRefs:     []string{pledge.PledgeRef},
			Students:       targets,
			InstallmentRef: installmentRef,
		})
		if err != nil {
			results = append(results, subscriptiondomain.MonthlyBatchResult{
				SubscriptionRef: sub.SubscriptionRef, Allocated: false, Reason: err.Error(),
			})
			continue
		}

		for _, inst := range insts {
			inst.Status = installmentdomain.StatusAllocated
			if err := s.installmentRepo.Update(ctx, s.db, inst); err != nil {
				s.log.Warn("monthly batch: mark installment allocated failed", zap.Error(err))
			}
		}

		results = append(results, subscriptiondomain.MonthlyBatchResult{
			SubscriptionRef: sub.SubscriptionRef, Allocated: true, Reason: batchResult.BatchRef,
		})
	}

	return results, nil
}
