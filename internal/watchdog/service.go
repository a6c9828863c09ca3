// Package watchdog implements the fifteen-minute outbound-reply agent
// that turns a hostel or UAO reply into HOSTEL_VERIFIED/HOSTEL_QUERY
// allocation status and, once every allocation on a fully-allocated
// pledge is verified, closes it.
//
// The conceptual mailbox search (from hostel/UAO domains, subject
// contains Ref: PLEDGE-/BATCH-, excluding Watchdog/Processed and
// Watchdog/Manual-Review) is realized here as a label query: the same
// inbound transport that calls mail.Provider.IngestInbound tags a
// hostel/UAO-domain sender's message with WatchdogInboundLabel, and this
// sweep scans that label with the two Watchdog labels excluded, matching
// the receipt processor's own label-queue shape.
package watchdog

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/idgen"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/ai"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	"github.com/pledgeflow/reconciler/internal/providers/template"
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
	Clock clock.Clock
	Cfg   config.Config

	PledgeRepo     pledgedomain.Repository
	AllocationRepo allocdomain.Repository
	AuditService   auditdomain.Service

	Mail     mail.Provider
	Oracle   ai.Oracle
	Renderer template.Renderer
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config

	pledgeRepo     pledgedomain.Repository
	allocationRepo allocdomain.Repository
	audit          auditdomain.Service

	mail     mail.Provider
	oracle   ai.Oracle
	renderer template.Renderer
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("watchdog"),
		clock:          p.Clock,
		cfg:            p.Cfg,
		pledgeRepo:     p.PledgeRepo,
		allocationRepo: p.AllocationRepo,
		audit:          p.AuditService,
		mail:           p.Mail,
		oracle:         p.Oracle,
		renderer:       p.Renderer,
	}
}

// SweepResult reports what one Sweep pass did, for the scheduler job log.
type SweepResult struct {
	ThreadsScanned  int
	Verified        int
	ManualReview    int
	DeferredForRetry int
	PledgesClosed   int
}

func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	threads, err := s.mail.ThreadsByLabel(ctx, s.cfg.WatchdogInboundLabel, []string{s.cfg.WatchdogProcessedLabel, s.cfg.WatchdogManualReviewLabel})
	if err != nil {
		return nil, fmt.Errorf("watchdog: list threads: %w", err)
	}

	orgID := orgFromCtx(ctx)
	pending, err := s.allocationRepo.FindAllPendingHostel(ctx, s.db, orgID)
	if err != nil {
		return nil, fmt.Errorf("watchdog: preload pending hostel allocations: %w", err)
	}
	byMessageID := make(map[string]*allocdomain.Allocation, len(pending))
	for _, a := range pending {
		if a.HostelIntimationMessageID != nil && *a.HostelIntimationMessageID != "" {
			byMessageID[*a.HostelIntimationMessageID] = a
		}
	}

	result := &SweepResult{ThreadsScanned: len(threads)}
	for _, thread := range threads {
		verified, manual, deferred, closed, err := s.processThread(ctx, orgID, thread, byMessageID, pending)
		if err != nil {
			s.log.Warn("watchdog: thread failed", zap.Error(err))
			continue
		}
		result.Verified += verified
		if manual {
			result.ManualReview++
		}
		if deferred {
			result.DeferredForRetry++
		}
		result.PledgesClosed += closed
	}
	return result, nil
}

func (s *Service) processThread(ctx context.Context, orgID snowflake.ID, thread *mail.Thread, byMessageID map[string]*allocdomain.Allocation, pending []*allocdomain.Allocation) (verified int, manual, deferred bool, closed int, err error) {
	threadCtx, err := s.mail.GetThreadContext(ctx, thread, 20)
	if err != nil {
		return 0, false, false, 0, fmt.Errorf("thread context: %w", err)
	}
	if threadCtx == nil || threadCtx.Current.MessageID == "" {
		return 0, false, false, 0, s.markProcessed(ctx, thread)
	}

	openAllocations := s.matchOpenAllocations(ctx, orgID, threadCtx, byMessageID, pending)
	if len(openAllocations) == 0 {
		return 0, false, false, 0, s.markProcessed(ctx, thread)
	}

	allocRefs := make([]string, 0, len(openAllocations))
	for _, a := range openAllocations {
		allocRefs = append(allocRefs, a.AllocRef)
	}

	analysis, aierr := s.oracle.ClassifyReply(ctx, threadCtx.Combined, allocRefs)
	if aierr != nil {
		s.log.Warn("watchdog: ClassifyReply error", zap.Error(aierr))
	}
	if analysis == nil {
		return 0, false, true, 0, nil
	}

	switch analysis.Status {
	case ai.ReplyConfirmedAll, ai.ReplyPartial:
		confirmed := make(map[string]bool, len(analysis.ConfirmedAllocIDs))
		for _, id := range analysis.ConfirmedAllocIDs {
			confirmed[id] = true
		}
		now := s.clock.Now()
		touchedPledges := map[snowflake.ID]bool{}
		for _, alloc := range openAllocations {
			if !confirmed[alloc.AllocRef] {
				continue
			}
			alloc.Status = allocdomain.StatusHostelVerified
			alloc.HostelReplyMessageID = strPtr(threadCtx.Current.MessageID)
			alloc.HostelReplyAt = &now
			if err := s.allocationRepo.UpdateStatusAndReply(ctx, s.db, alloc); err != nil {
				s.log.Warn("watchdog: update allocation failed", zap.Error(err))
				continue
			}
			s.audit.Record(ctx, auditdomain.Entry{
				OrgID: orgID, ActorType: auditdomain.ActorTypeScheduler,
				Kind: auditdomain.KindHostelVerification, TargetType: "allocation", TargetID: alloc.AllocRef,
				Action: "hostel_verified",
			})
			s.notifyDonor(ctx, orgID, alloc)
			touchedPledges[alloc.PledgeID] = true
			verified++
		}
		for pledgeID := range touchedPledges {
			if s.closePledgeIfComplete(ctx, orgID, pledgeID) {
				closed++
			}
		}
	case ai.ReplyAmbiguous, ai.ReplyQuery:
		now := s.clock.Now()
		for _, alloc := range openAllocations {
			alloc.Status = allocdomain.StatusHostelQuery
			alloc.HostelReplyMessageID = strPtr(threadCtx.Current.MessageID)
			alloc.HostelReplyAt = &now
			if err := s.allocationRepo.UpdateStatusAndReply(ctx, s.db, alloc); err != nil {
				s.log.Warn("watchdog: update allocation failed", zap.Error(err))
			}
		}
		if err := s.mail.AddLabel(ctx, thread, s.cfg.WatchdogManualReviewLabel); err != nil {
			s.log.Warn("watchdog: label manual review failed", zap.Error(err))
		}
		s.alertAdmin(ctx, orgID, threadCtx, analysis)
		manual = true
	}

	if err := s.markProcessed(ctx, thread); err != nil {
		return verified, manual, false, closed, err
	}
	return verified, manual, false, closed, nil
}

// matchOpenAllocations tries thread-id match first, subject fallback
// second.
func (s *Service) matchOpenAllocations(ctx context.Context, orgID snowflake.ID, threadCtx *mail.ThreadContext, byMessageID map[string]*allocdomain.Allocation, pending []*allocdomain.Allocation) []*allocdomain.Allocation {
	ids := make([]string, 0, len(threadCtx.History)+1)
	for i := len(threadCtx.History) - 1; i >= 0; i-- {
		ids = append(ids, threadCtx.History[i].MessageID)
	}
	ids = append(ids, threadCtx.Current.MessageID)

	for _, id := range ids {
		matched, ok := byMessageID[id]
		if !ok {
			continue
		}
		return allocationsSharing(pending, matched)
	}

	haystack := threadCtx.Current.Subject + " " + threadCtx.Combined
	if pledgeRef, ok := idgen.ExtractPledgeRef(haystack); ok {
		pledge, err := s.pledgeRepo.FindByRef(ctx, s.db, orgID, pledgeRef)
		if err == nil && pledge != nil {
			out := make([]*allocdomain.Allocation, 0)
			for _, a := range pending {
				if a.PledgeID == pledge.ID {
					out = append(out, a)
				}
			}
			return out
		}
	}
	if batchRef, ok := idgen.ExtractBatchRef(haystack); ok {
		out := make([]*allocdomain.Allocation, 0)
		for _, a := range pending {
			if a.BatchID != nil && *a.BatchID == batchRef {
				out = append(out, a)
			}
		}
		return out
	}
	return nil
}

// allocationsSharing returns every pending allocation in the same batch
// as matched (if it has one), else every pending allocation for its
// pledge — the set the reply could plausibly be confirming in bulk.
func allocationsSharing(pending []*allocdomain.Allocation, matched *allocdomain.Allocation) []*allocdomain.Allocation {
	out := make([]*allocdomain.Allocation, 0, 1)
	for _, a := range pending {
		if matched.BatchID != nil && a.BatchID != nil && *a.BatchID == *matched.BatchID {
			out = append(out, a)
		} else if matched.BatchID == nil && a.PledgeID == matched.PledgeID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Service) notifyDonor(ctx context.Context, orgID snowflake.ID, alloc *allocdomain.Allocation) {
	pledge, err := s.pledgeRepo.FindByID(ctx, s.db, orgID, alloc.PledgeID)
	if err != nil || pledge == nil {
		s.log.Warn("watchdog: load pledge for donor notice failed", zap.Error(err))
		return
	}
	rendered, err := s.renderer.Render(ctx, template.RenderInput{
		TemplateName: "hostel_verification_notice",
		Data: map[string]string{
			"allocRef":  alloc.AllocRef,
			"amount":    fmt.Sprintf("%d", alloc.Amount),
			"donorName": pledge.DonorName,
		},
	})
	if err != nil {
		s.log.Warn("watchdog: render donor notice failed", zap.Error(err))
		return
	}
	var priorIDs []string
	if alloc.DonorAllocMessageID != nil {
		priorIDs = append(priorIDs, *alloc.DonorAllocMessageID)
	}
	now := s.clock.Now()
	messageID, err := s.mail.SendOrReply(ctx, []string{pledge.DonorEmail}, rendered.Subject, rendered.HTMLBody, priorIDs)
	if err != nil {
		s.log.Warn("watchdog: donor notice send failed", zap.Error(err))
		return
	}
	alloc.DonorNotifyMessageID = strPtr(messageID)
	alloc.DonorNotifyAt = &now
	if err := s.allocationRepo.UpdateStatusAndReply(ctx, s.db, alloc); err != nil {
		s.log.Warn("watchdog: record donor notify failed", zap.Error(err))
	}
}

// closePledgeIfComplete closes a FULLY_ALLOCATED pledge once every one
// of its allocations is HOSTEL_VERIFIED.
func (s *Service) closePledgeIfComplete(ctx context.Context, orgID, pledgeID snowflake.ID) bool {
	pledge, err := s.pledgeRepo.FindByID(ctx, s.db, orgID, pledgeID)
	if err != nil || pledge == nil {
		return false
	}
	if pledge.Status != pledgedomain.PledgeStatusFullyAllocated {
		return false
	}
	allocations, err := s.allocationRepo.FindByPledgeID(ctx, s.db, orgID, pledgeID)
	if err != nil {
		s.log.Warn("watchdog: load allocations for closure check failed", zap.Error(err))
		return false
	}
	for _, a := range allocations {
		if a.Status == allocdomain.StatusCancelled {
			continue
		}
		if a.Status != allocdomain.StatusHostelVerified && a.Status != allocdomain.StatusStudentVerification && a.Status != allocdomain.StatusCompleted {
			return false
		}
	}

	before := pledge.Status
	pledge.Status = pledgedomain.PledgeStatusClosed
	pledge.UpdatedAt = s.clock.Now()
	if err := s.pledgeRepo.UpdateStatusAndTotals(ctx, s.db, pledge); err != nil {
		s.log.Warn("watchdog: close pledge failed", zap.Error(err))
		return false
	}
	s.audit.Record(ctx, auditdomain.Entry{
		OrgID: orgID, ActorType: auditdomain.ActorTypeScheduler,
		Kind: auditdomain.KindStatusChange, TargetType: "pledge", TargetID: pledge.PledgeRef,
		Action: "pledge_closed",
		Before: map[string]any{"status": before},
		After:  map[string]any{"status": pledge.Status},
	})
	return true
}

func (s *Service) alertAdmin(ctx context.Context, orgID snowflake.ID, threadCtx *mail.ThreadContext, analysis *ai.ReplyAnalysis) {
	rendered, err := s.renderer.Render(ctx, template.RenderInput{
		TemplateName: "watchdog_alert",
		Data: map[string]string{
			"status":    string(analysis.Status),
			"reasoning": analysis.Reasoning,
			"subject":   threadCtx.Current.Subject,
		},
	})
	if err != nil {
		s.log.Warn("watchdog: render admin alert failed", zap.Error(err))
		return
	}
	if _, err := s.mail.Send(ctx, []string{s.cfg.AdminEmail}, nil, rendered.Subject, rendered.HTMLBody, nil); err != nil {
		s.log.Warn("watchdog: admin alert send failed", zap.Error(err))
	}
	s.audit.Record(ctx, auditdomain.Entry{
		OrgID: orgID, ActorType: auditdomain.ActorTypeScheduler,
		Kind: auditdomain.KindAlert, TargetType: "mail_thread", TargetID: threadCtx.Current.MessageID,
		Action: "watchdog_ambiguous_reply",
		Metadata: map[string]any{"status": string(analysis.Status), "reasoning": analysis.Reasoning},
	})
}

func (s *Service) markProcessed(ctx context.Context, thread *mail.Thread) error {
	return s.mail.AddLabel(ctx, thread, s.cfg.WatchdogProcessedLabel)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
