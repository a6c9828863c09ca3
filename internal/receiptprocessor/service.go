// Package receiptprocessor implements the ten-minute inbound-mail agent
// that turns a thread carrying the "Receipts/To-Process" label into
// persisted Receipt rows and an updated pledge verified total. It runs
// unlocked: its writes only ever increase verifiedTotal, so it never
// competes with the "alloc" critical section.
package receiptprocessor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/idgen"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/ai"
	"github.com/pledgeflow/reconciler/internal/providers/blob"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
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

	DB    *gorm.DB `name:"operations"`
	Log   *zap.Logger
	GenID *idgen.Generator
	Clock clock.Clock
	Cfg   config.Config

	PledgeRepo       pledgedomain.Repository
	ReceiptRepo      receiptdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	SubscriptionSvc  subscriptiondomain.Service
	AuditService     auditdomain.Service

	Mail   mail.Provider
	Oracle ai.Oracle
	Blob   blob.Store
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *idgen.Generator
	clock clock.Clock
	cfg   config.Config

	pledgeRepo       pledgedomain.Repository
	receiptRepo      receiptdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	subscriptionSvc  subscriptiondomain.Service
	audit            auditdomain.Service

	mail   mail.Provider
	oracle ai.Oracle
	blob   blob.Store
}

func NewService(p Params) *Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("receiptprocessor"),
		genID:            p.GenID,
		clock:            p.Clock,
		cfg:              p.Cfg,
		pledgeRepo:       p.PledgeRepo,
		receiptRepo:      p.ReceiptRepo,
		subscriptionRepo: p.SubscriptionRepo,
		subscriptionSvc:  p.SubscriptionSvc,
		audit:            p.AuditService,
		mail:             p.Mail,
		oracle:           p.Oracle,
		blob:             p.Blob,
	}
}

// SweepResult reports what one Sweep pass did, for the scheduler job log.
type SweepResult struct {
	ThreadsScanned       int
	ReceiptsPersisted    int
	SubscriptionsRouted  int
	DeferredForRetry     int
	RoutedToManualReview int
	RoutedToDonorQuery   int
}

// Sweep runs one per-cycle loop over every thread carrying
// labelToProcess.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	threads, err := s.mail.ThreadsByLabel(ctx, s.cfg.ReceiptsLabelToProcess, nil)
	if err != nil {
		return nil, fmt.Errorf("receiptprocessor: list threads: %w", err)
	}

	result := &SweepResult{ThreadsScanned: len(threads)}
	for _, thread := range threads {
		outcome, err := s.processThread(ctx, thread)
		if err != nil {
			s.log.Warn("receiptprocessor: thread failed", zap.Error(err))
			continue
		}
		switch outcome {
		case outcomeDeferred:
			result.DeferredForRetry++
		case outcomeSubscription:
			result.SubscriptionsRouted++
		case outcomeManualReview:
			result.RoutedToManualReview++
		case outcomeDonorQuery:
			result.RoutedToDonorQuery++
		case outcomeReceipts:
			result.ReceiptsPersisted++
		}
	}
	return result, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDeferred
	outcomeSubscription
	outcomeManualReview
	outcomeDonorQuery
	outcomeReceipts
)

func (s *Service) processThread(ctx context.Context, thread *mail.Thread) (outcome, error) {
	threadCtx, err := s.mail.GetThreadContext(ctx, thread, 5)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("thread context: %w", err)
	}
	if threadCtx == nil || threadCtx.Current.MessageID == "" {
		return s.markProcessed(ctx, thread)
	}

	pledgeRef, ok := idgen.ExtractPledgeRef(threadCtx.Current.Subject + " " + threadCtx.Combined)
	if !ok {
		return s.markProcessed(ctx, thread)
	}

	if s.isInternalSender(threadCtx.Current.From) {
		if err := s.mail.RemoveLabel(ctx, thread, s.cfg.ReceiptsLabelToProcess); err != nil {
			return outcomeSkipped, err
		}
		return outcomeSkipped, nil
	}

	orgID := orgFromCtx(ctx)
	pledge, err := s.pledgeRepo.FindByRef(ctx, s.db, orgID, pledgeRef)
	if err != nil {
		return outcomeSkipped, err
	}
	if pledge == nil {
		return s.markProcessed(ctx, thread)
	}

	if sub, serr := s.subscriptionRepo.FindByPledgeID(ctx, s.db, orgID, pledge.ID); serr == nil && sub != nil {
		return s.routeSubscriptionPayment(ctx, thread, threadCtx, sub)
	}

	return s.routeOneTimeReceipt(ctx, thread, threadCtx, pledge)
}

func (s *Service) isInternalSender(from string) bool {
	from = strings.ToLower(from)
	for _, domain := range s.cfg.InternalSenderDomains {
		if domain == "" {
			continue
		}
		if strings.HasSuffix(from, "@"+strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

func (s *Service) routeSubscriptionPayment(ctx context.Context, thread *mail.Thread, threadCtx *mail.ThreadContext, sub *subscriptiondomain.Subscription) (outcome, error) {
	var blobHandle, filename string
	if admissible := firstAdmissibleAttachment(threadCtx.Current.Attachments); admissible != nil {
		handle, err := s.blob.Put(ctx, admissible.Filename, admissible.Content)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("blob put: %w", err)
		}
		blobHandle = handle
		filename = admissible.Filename
	}

	receivedDate := s.clock.Now()
	if parsed, err := time.Parse(time.RFC3339, threadCtx.Current.SentAt); err == nil {
		receivedDate = parsed
	}

	err := s.subscriptionSvc.RecordPayment(ctx, subscriptiondomain.RecordPaymentRequest{
		SubscriptionID:   sub.SubscriptionRef,
		BlobHandle:       blobHandle,
		OriginalFilename: filename,
		AmountReceived:   sub.MonthlyAmount,
		ReceivedDate:     receivedDate,
		EmailMessageID:   threadCtx.Current.MessageID,
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("record subscription payment: %w", err)
	}

	if _, err := s.markProcessed(ctx, thread); err != nil {
		return outcomeSkipped, err
	}
	return outcomeSubscription, nil
}

func firstAdmissibleAttachment(attachments []mail.Attachment) *mail.Attachment {
	for i := range attachments {
		if len(attachments[i].Content) > 0 {
			return &attachments[i]
		}
	}
	return nil
}

func (s *Service) routeOneTimeReceipt(ctx context.Context, thread *mail.Thread, threadCtx *mail.ThreadContext, pledge *pledgedomain.Pledge) (outcome, error) {
	aiAttachments := make([]ai.Attachment, 0, len(threadCtx.Current.Attachments))
	for _, a := range threadCtx.Current.Attachments {
		aiAttachments = append(aiAttachments, ai.Attachment{Filename: a.Filename, MIMEType: a.MIMEType, Content: a.Content})
	}

	// expectedAmount is the pledge's remaining outstanding balance, not its
	// full committed amount: a partial receipt already reduces what the
	// next one should plausibly match.
	expectedAmount := pledge.CommittedAmount - pledge.VerifiedTotal

	analysis, err := s.oracle.ExtractReceipts(
		ctx,
		threadCtx.Combined,
		aiAttachments,
		pledge.SubmittedAt.Format(time.RFC3339),
		threadCtx.Current.SentAt,
		expectedAmount,
	)
	if err != nil {
		s.log.Warn("receiptprocessor: ExtractReceipts error", zap.Error(err), zap.String("pledgeRef", pledge.PledgeRef))
	}
	if analysis == nil {
		// AI_NULL: retry next cycle, leave the label untouched.
		return outcomeDeferred, nil
	}

	orgID := orgFromCtx(ctx)

	switch analysis.Category {
	case ai.CategoryQuestion:
		return s.handleQuestion(ctx, thread, threadCtx, pledge, analysis)
	case ai.CategoryIrrelevant:
		return s.markProcessed(ctx, thread)
	}

	if len(analysis.ValidReceipts) == 0 {
		if err := s.mail.AddLabel(ctx, thread, s.cfg.ManualReviewLabel); err != nil {
			return outcomeSkipped, err
		}
		if err := s.mail.RemoveLabel(ctx, thread, s.cfg.ReceiptsLabelToProcess); err != nil {
			return outcomeSkipped, err
		}
		return outcomeManualReview, nil
	}

	attachmentByFilename := make(map[string]mail.Attachment, len(threadCtx.Current.Attachments))
	for _, a := range threadCtx.Current.Attachments {
		attachmentByFilename[a.Filename] = a
	}

	existingCount, err := s.receiptRepo.CountByPledgeID(ctx, s.db, orgID, pledge.ID)
	if err != nil {
		return outcomeSkipped, err
	}

	var sessionTotal int64
	var lastTransferDate *time.Time
	seq := int(existingCount)
	for _, vr := range analysis.ValidReceipts {
		att, ok := attachmentByFilename[vr.Filename]
		if !ok {
			continue
		}
		seq++
		blobHandle, err := s.blob.Put(ctx, vr.Filename, att.Content)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("blob put: %w", err)
		}

		var transferDate *time.Time
		if parsed, perr := time.Parse("2006-01-02", vr.Date); perr == nil {
			transferDate = &parsed
			lastTransferDate = &parsed
		}

		receipt := &receiptdomain.Receipt{
			ID:               s.genID.NextID(),
			OrgID:            orgID,
			ReceiptRef:       idgen.NewReceiptRef(pledge.PledgeRef, seq),
			PledgeID:         pledge.ID,
			ProcessedAt:      s.clock.Now(),
			EmailDate:        s.clock.Now(),
			TransferDate:     transferDate,
			DeclaredAmount:   vr.AmountDeclared,
			VerifiedAmount:   vr.Amount,
			Confidence:       receiptdomain.Confidence(vr.ConfidenceScore),
			BlobHandle:       blobHandle,
			OriginalFilename: fmt.Sprintf("%s - %s", pledge.PledgeRef, vr.Filename),
			Status:           receiptdomain.StatusValid,
			CreatedAt:        s.clock.Now(),
		}
		if err := s.receiptRepo.Insert(ctx, s.db, receipt); err != nil {
			return outcomeSkipped, fmt.Errorf("insert receipt: %w", err)
		}
		sessionTotal += vr.Amount
	}

	newTotal := pledge.VerifiedTotal + sessionTotal
	newStatus := pledgedomain.PledgeStatusPartialReceipt
	if newTotal >= pledge.CommittedAmount {
		newStatus = pledgedomain.PledgeStatusProofSubmitted
	}

	updated := *pledge
	updated.VerifiedTotal = newTotal
	updated.Status = newStatus
	updated.DateProofReceived = ptrTime(s.clock.Now())
	if lastTransferDate != nil {
		updated.ActualTransferDate = lastTransferDate
	}
	updated.ReceiptMessageID = ptrString(threadCtx.Current.MessageID)
	updated.UpdatedAt = s.clock.Now()

	if err := s.pledgeRepo.UpdateStatusAndTotals(ctx, s.db, &updated); err != nil {
		return outcomeSkipped, fmt.Errorf("update pledge totals: %w", err)
	}

	if _, err := s.markProcessed(ctx, thread); err != nil {
		return outcomeSkipped, err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		OrgID:      orgID,
		ActorType:  auditdomain.ActorTypeSystem,
		Kind:       auditdomain.KindReceiptProcessed,
		TargetType: "pledge",
		TargetID:   pledge.PledgeRef,
		Action:     "receipt_processed",
		Before:     map[string]any{"verifiedTotal": pledge.VerifiedTotal, "status": pledge.Status},
		After:      map[string]any{"verifiedTotal": newTotal, "status": newStatus},
	})

	return outcomeReceipts, nil
}

func (s *Service) handleQuestion(ctx context.Context, thread *mail.Thread, threadCtx *mail.ThreadContext, pledge *pledgedomain.Pledge, analysis *ai.ReceiptAnalysis) (outcome, error) {
	if analysis.SuggestedReply != "" {
		if _, err := s.mail.SendOrReply(ctx, []string{threadCtx.Current.From}, "Re: "+threadCtx.Current.Subject, analysis.SuggestedReply, []string{threadCtx.Current.MessageID}); err != nil {
			s.log.Warn("receiptprocessor: draft reply send failed", zap.Error(err))
		}
	}

	updated := *pledge
	updated.AIComments = ptrString(analysis.Summary)
	updated.UpdatedAt = s.clock.Now()
	if err := s.pledgeRepo.UpdateStatusAndTotals(ctx, s.db, &updated); err != nil {
		return outcomeSkipped, fmt.Errorf("note summary: %w", err)
	}

	if err := s.mail.AddLabel(ctx, thread, s.cfg.DonorQueryLabel); err != nil {
		return outcomeSkipped, err
	}
	if err := s.mail.RemoveLabel(ctx, thread, s.cfg.ReceiptsLabelToProcess); err != nil {
		return outcomeSkipped, err
	}
	return outcomeDonorQuery, nil
}

func (s *Service) markProcessed(ctx context.Context, thread *mail.Thread) (outcome, error) {
	if err := s.mail.AddLabel(ctx, thread, s.cfg.ReceiptsLabelProcessed); err != nil {
		return outcomeSkipped, err
	}
	if err := s.mail.RemoveLabel(ctx, thread, s.cfg.ReceiptsLabelToProcess); err != nil {
		return outcomeSkipped, err
	}
	return outcomeSkipped, nil
}

func ptrString(s string) *string { return &s }
func ptrTime(t time.Time) *time.Time { return &t }
