// Package service implements the single critical section named "alloc",
// covering both the single-student and batch allocation flows. Every
// write path here runs inside lock.Locker.WithLock and follows a
// commit-last rule: every outbound mail send happens before the first
// row is appended, so a failed send leaves no ledger entry behind. A
// crash after a send but before the append leaves a sent email with no
// matching ledger entry.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	beneficiarydomain "github.com/pledgeflow/reconciler/internal/beneficiary/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/idgen"
	"github.com/pledgeflow/reconciler/internal/ledgerengine"
	"github.com/pledgeflow/reconciler/internal/lock"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/blob"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	"github.com/pledgeflow/reconciler/internal/providers/template"
	receiptdomain "github.com/pledgeflow/reconciler/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// allocLockName is the single named critical section shared by every
// allocation-affecting write path (single, batch, subscription payment,
// monthly batch).
const allocLockName = "alloc"

// allocLockTimeout is the lock-acquire budget.
const allocLockTimeout = 30 * time.Second

// attachmentCapBytes mirrors the mail gateway's own 24 MiB aggregate cap
// so artifact-gathering never bothers assembling more than a send could
// carry anyway.
const attachmentCapBytes = 24 * 1024 * 1024

func orgFromCtx(ctx context.Context) snowflake.ID {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	return orgID
}

type Params struct {
	fx.In

	OperationsDB  *gorm.DB `name:"operations"`
	ConfidentialDB *gorm.DB `name:"confidential"`
	Log           *zap.Logger
	GenID         *idgen.Generator
	Clock         clock.Clock
	Locker        lock.Locker
	Engine        *ledgerengine.Engine

	PledgeRepo               pledgedomain.Repository
	AllocationRepo           allocdomain.Repository
	BeneficiaryRepo          beneficiarydomain.Repository
	BeneficiaryAggregateRepo beneficiarydomain.AggregateRepository
	ReceiptRepo              receiptdomain.Repository
	AuditService             auditdomain.Service

	Mail     mail.Provider
	Renderer template.Renderer
	Blob     blob.Store
}

type Service struct {
	opsDB    *gorm.DB
	confDB   *gorm.DB
	log      *zap.Logger
	genID    *idgen.Generator
	clock    clock.Clock
	locker   lock.Locker
	engine   *ledgerengine.Engine

	pledgeRepo               pledgedomain.Repository
	allocationRepo           allocdomain.Repository
	beneficiaryRepo          beneficiarydomain.Repository
	beneficiaryAggregateRepo beneficiarydomain.AggregateRepository
	receiptRepo              receiptdomain.Repository
	audit                    auditdomain.Service

	mail     mail.Provider
	renderer template.Renderer
	blob     blob.Store
}

func NewService(p Params) allocdomain.Service {
	return &Service{
		opsDB:           p.OperationsDB,
		confDB:          p.ConfidentialDB,
		log:             p.Log.Named("allocation.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		locker:          p.Locker,
		engine:          p.Engine,
		pledgeRepo:               p.PledgeRepo,
		allocationRepo:           p.AllocationRepo,
		beneficiaryRepo:          p.BeneficiaryRepo,
		beneficiaryAggregateRepo: p.BeneficiaryAggregateRepo,
		receiptRepo:              p.ReceiptRepo,
		audit:                    p.AuditService,
		mail:                     p.Mail,
		renderer:                 p.Renderer,
		blob:                     p.Blob,
	}
}

// hasProof reports whether pledge has at least one verified receipt —
// required before any of its cash can be allocated.
func hasProof(pledge *pledgedomain.Pledge) bool {
	return pledge.DateProofReceived != nil
}

// gatherReceiptArtifacts loads every receipt attachment for pledge,
// respecting the same 24 MiB aggregate cap the mail gateway enforces. A
// blob that fails to load is skipped and logged rather than aborting the
// allocation: a missing attachment is not a reason to block cash reaching
// a student.
func (s *Service) gatherReceiptArtifacts(ctx context.Context, orgID, pledgeID snowflake.ID) []mail.Attachment {
	receipts, err := s.receiptRepo.FindByPledgeID(ctx, s.opsDB, orgID, pledgeID)
	if err != nil {
		s.log.Warn("load receipts for attachment gathering failed", zap.Error(err))
		return nil
	}
	var attachments []mail.Attachment
	var total int64
	for _, r := range receipts {
		content, err := s.blob.Get(ctx, r.BlobHandle)
		if err != nil {
			s.log.Warn("receipt blob fetch failed", zap.String("blobHandle", r.BlobHandle), zap.Error(err))
			continue
		}
		if total+int64(len(content)) > attachmentCapBytes {
			break
		}
		total += int64(len(content))
		attachments = append(attachments, mail.Attachment{Filename: r.OriginalFilename, Content: content})
	}
	return attachments
}

// nextPledgeStatus reports fully allocated when this allocation exhausts
// the real-time balance, else partial.
func nextPledgeStatus(balanceBefore, amount int64) pledgedomain.PledgeStatus {
	if amount >= balanceBefore {
		return pledgedomain.PledgeStatusFullyAllocated
	}
	return pledgedomain.PledgeStatusPartiallyAllocated
}

func (s *Service) ProcessAllocation(ctx context.Context, req allocdomain.SingleRequest) (*allocdomain.SingleResult, error) {
	var result *allocdomain.SingleResult
	err := s.locker.WithLock(ctx, allocLockName, allocLockTimeout, func(ctx context.Context) error {
		orgID := orgFromCtx(ctx)

		amount := parseAmount(req.RawAmount)
		if amount <= 0 {
			return allocdomain.ErrInvalidAmount
		}

		pledge, err := s.pledgeRepo.FindByRef(ctx, s.opsDB, orgID, req.PledgeRef)
		if err != nil {
			return fmt.Errorf("allocation: load pledge: %w", err)
		}
		if pledge == nil {
			return allocdomain.ErrPledgeNotFound
		}
		if !hasProof(pledge) {
			return allocdomain.ErrNoProof
		}

		balance, err := s.engine.RealTimePledgeBalance(ctx, s.opsDB, pledge)
		if err != nil {
			return fmt.Errorf("allocation: compute balance: %w", err)
		}
		if amount > balance {
			return allocdomain.ErrInsufficientFunds
		}

		need, beneficiary, found, err := s.engine.RealTimeStudentNeed(ctx, s.confDB, orgID, req.CMSID)
		if err != nil {
			return fmt.Errorf("allocation: compute need: %w", err)
		}
		if !found {
			return allocdomain.ErrUnknownStudent
		}
		if amount > need {
			return allocdomain.ErrExceedsNeed
		}

		attachments := s.gatherReceiptArtifacts(ctx, orgID, pledge.ID)
		allocRef := s.genID.NewAllocRef()

		hostelRendered, err := s.renderer.Render(ctx, template.RenderInput{
			TemplateName: "hostel_intimation",
			Data: map[string]string{
				"allocRef":   allocRef,
				"studentName": beneficiary.Name,
				"school":     beneficiary.School,
				"amount":     fmt.Sprintf("%d", amount),
				"donorName":  pledge.DonorName,
			},
		})
		if err != nil {
			return fmt.Errorf("%w: render hostel intimation: %v", allocdomain.ErrSendFailed, err)
		}
		hostelMessageID, err := s.mail.Send(ctx, []string{beneficiary.HostelContactEmail}, nil,
			hostelRendered.Subject, hostelRendered.HTMLBody, attachments)
		if err != nil {
			return fmt.Errorf("%w: send hostel intimation: %v", allocdomain.ErrSendFailed, err)
		}

		// Donor intermediate notification is best-effort: a failure here
		// only logs, it never aborts the commit.
		donorMessageID := ""
		donorRendered, rerr := s.renderer.Render(ctx, template.RenderInput{
			TemplateName: "donor_allocation_notice",
			Data: map[string]string{
				"allocRef":    allocRef,
				"studentName": beneficiary.Name,
				"amount":      fmt.Sprintf("%d", amount),
			},
		})
		if rerr != nil {
			s.log.Warn("render donor allocation notice failed", zap.Error(rerr))
		} else {
			priorIDs := priorMessageIDs(pledge)
			id, serr := s.mail.SendOrReply(ctx, []string{pledge.DonorEmail}, donorRendered.Subject, donorRendered.HTMLBody, priorIDs)
			if serr != nil {
				s.log.Warn("donor allocation notice send failed", zap.Error(serr))
			} else {
				donorMessageID = id
			}
		}

		now := s.clock.Now()
		alloc := &allocdomain.Allocation{
			ID:                        s.genID.NextID(),
			OrgID:                     orgID,
			AllocRef:                  allocRef,
			CMSID:                     req.CMSID,
			PledgeID:                  pledge.ID,
			VerifiedTotalAtCommit:     pledge.VerifiedTotal,
			Amount:                    amount,
			Status:                    allocdomain.StatusPendingHostel,
			HostelIntimationMessageID: strPtr(hostelMessageID),
			HostelIntimationAt:        &now,
			CreatedAt:                 now,
		}
		if donorMessageID != "" {
			alloc.DonorAllocMessageID = strPtr(donorMessageID)
			alloc.DonorAllocAt = &now
		}
		if err := s.allocationRepo.Insert(ctx, s.opsDB, alloc); err != nil {
			return fmt.Errorf("allocation: insert: %w", err)
		}

		newStatus := nextPledgeStatus(balance, amount)
		if verr := s.engine.Validator().Pledge(pledge.Status, newStatus); verr != nil {
			return fmt.Errorf("allocation: pledge transition: %w", verr)
		}
		before := map[string]any{"status": string(pledge.Status)}
		pledge.Status = newStatus
		pledge.UpdatedAt = now
		if err := s.pledgeRepo.UpdateStatusAndTotals(ctx, s.opsDB, pledge); err != nil {
			return fmt.Errorf("allocation: update pledge: %w", err)
		}

		s.audit.Record(ctx, auditdomain.Entry{
			OrgID:      orgID,
			ActorType:  auditdomain.ActorTypeSystem,
			Kind:       auditdomain.KindAllocation,
			TargetType: "allocation",
			TargetID:   allocRef,
			Action:     "allocation_created",
			Before:     before,
			After:      map[string]any{"status": string(newStatus), "amount": amount},
		})

		// Best-effort: beneficiary totals live on the Confidential store,
		// a separate *gorm.DB from the Operations write above, so the two
		// cannot share a SQL transaction. A recompute failure here is
		// logged, never surfaced to the caller: the authoritative totals
		// are always derivable fresh from allocationRepo.SumByCMSID.
		s.recomputeBeneficiaryTotals(ctx, orgID, beneficiary)

		result = &allocdomain.SingleResult{AllocRef: allocRef}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) recomputeBeneficiaryTotals(ctx context.Context, orgID snowflake.ID, beneficiary *beneficiarydomain.Beneficiary) {
	cleared, err := s.allocationRepo.SumByCMSID(ctx, s.opsDB, orgID, beneficiary.CMSID)
	if err != nil {
		s.log.Warn("recompute beneficiary totals: sum allocations failed", zap.Error(err))
		return
	}
	beneficiary.AmountCleared = cleared
	beneficiary.PendingAmount = beneficiary.TotalDue - cleared
	if beneficiary.PendingAmount < 0 {
		beneficiary.PendingAmount = 0
	}
	if err := s.beneficiaryRepo.UpdateTotals(ctx, s.confDB, beneficiary); err != nil {
		s.log.Warn("recompute beneficiary totals: update failed", zap.Error(err))
	}

	// Mirror the non-PII fields onto the operations store so the sanitized
	// read API (internal/readapi) never needs the confidential connection.
	// Best-effort: a failure here does not roll back the confidential
	// write — audit/projection writes never abort the enclosing business
	// operation.
	aggregate := &beneficiarydomain.BeneficiaryAggregate{
		OrgID: orgID, CMSID: beneficiary.CMSID, School: beneficiary.School,
		TotalDue: beneficiary.TotalDue, AmountCleared: beneficiary.AmountCleared,
		PendingAmount: beneficiary.PendingAmount, Status: beneficiary.Status,
	}
	if err := s.beneficiaryAggregateRepo.Upsert(ctx, s.opsDB, aggregate); err != nil {
		s.log.Warn("recompute beneficiary totals: aggregate sync failed", zap.Error(err))
	}
}

func priorMessageIDs(pledge *pledgedomain.Pledge) []string {
	var ids []string
	if pledge.ReceiptMessageID != nil && *pledge.ReceiptMessageID != "" {
		ids = append(ids, *pledge.ReceiptMessageID)
	}
	if pledge.ConfirmationMessageID != nil && *pledge.ConfirmationMessageID != "" {
		ids = append(ids, *pledge.ConfirmationMessageID)
	}
	return ids
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ProcessBatchAllocation resolves every student's draw target first, runs
// the greedy distribution, sends one consolidated hostel email per
// distinct hostel contact, and only then appends rows — a failed hostel
// send aborts the whole batch with nothing written, matching the
// single-allocation commit-last contract.
func (s *Service) ProcessBatchAllocation(ctx context.Context, req allocdomain.BatchRequest) (*allocdomain.BatchResult, error) {
	var result *allocdomain.BatchResult
	err := s.locker.WithLock(ctx, allocLockName, allocLockTimeout, func(ctx context.Context) error {
		orgID := orgFromCtx(ctx)

		if len(req.PledgeRefs) == 0 || len(req.Students) == 0 {
			return allocdomain.ErrNoLinkedStudents
		}

		pledges := make([]*pledgedomain.Pledge, 0, len(req.PledgeRefs))
		balances := make([]pledgeBalance, 0, len(req.PledgeRefs))
		var totalAvailable int64
		for _, ref := range req.PledgeRefs {
			pledge, err := s.pledgeRepo.FindByRef(ctx, s.opsDB, orgID, ref)
			if err != nil {
				return fmt.Errorf("allocation: load pledge %s: %w", ref, err)
			}
			if pledge == nil {
				return fmt.Errorf("%w: %s", allocdomain.ErrPledgeNotFound, ref)
			}
			if !hasProof(pledge) {
				return fmt.Errorf("%w: %s", allocdomain.ErrNoProof, ref)
			}
			bal, err := s.engine.RealTimePledgeBalance(ctx, s.opsDB, pledge)
			if err != nil {
				return fmt.Errorf("allocation: compute balance %s: %w", ref, err)
			}
			pledges = append(pledges, pledge)
			balances = append(balances, pledgeBalance{PledgeID: pledge.ID, PledgeRef: pledge.PledgeRef, Remaining: bal})
			totalAvailable += bal
		}

		type resolvedStudent struct {
			cmsID       string
			need        int64
			beneficiary *beneficiarydomain.Beneficiary
		}
		var resolved []resolvedStudent
		for _, st := range req.Students {
			need, beneficiary, found, err := s.engine.RealTimeStudentNeed(ctx, s.confDB, orgID, st.CMSID)
			if err != nil {
				return fmt.Errorf("allocation: compute need %s: %w", st.CMSID, err)
			}
			if !found {
				return fmt.Errorf("%w: %s", allocdomain.ErrUnknownStudent, st.CMSID)
			}
			if need <= 0 {
				continue
			}
			resolved = append(resolved, resolvedStudent{cmsID: st.CMSID, need: need, beneficiary: beneficiary})
		}
		if len(resolved) == 0 {
			return allocdomain.ErrNoLinkedStudents
		}

		explicit := make(map[string]int64, len(req.Students))
		for _, st := range req.Students {
			if st.Amount > 0 {
				explicit[st.CMSID] = st.Amount
			}
		}

		targets := make([]studentTarget, 0, len(resolved))
		for _, rs := range resolved {
			var target int64
			if amt, ok := explicit[rs.cmsID]; ok {
				target = amt
				if target > rs.need {
					target = rs.need
				}
			} else {
				target = equalSplitTarget(totalAvailable, len(resolved), rs.need)
			}
			if target > 0 {
				targets = append(targets, studentTarget{CMSID: rs.cmsID, Target: target})
			}
		}
		if len(targets) == 0 {
			return allocdomain.ErrExceedsNeed
		}

		pairs := distribute(balances, targets)
		if len(pairs) == 0 {
			return allocdomain.ErrInsufficientFunds
		}

		beneficiaryByCMS := make(map[string]*beneficiarydomain.Beneficiary, len(resolved))
		for _, rs := range resolved {
			beneficiaryByCMS[rs.cmsID] = rs.beneficiary
		}

		batchRef := s.genID.NewBatchRef(s.clock.Now().UnixMilli())

		// Group by hostel contact so one consolidated email covers every
		// student at that institution in this batch.
		byContact := make(map[string][]allocationPair)
		for _, pair := range pairs {
			b := beneficiaryByCMS[pair.CMSID]
			byContact[b.HostelContactEmail] = append(byContact[b.HostelContactEmail], pair)
		}

		now := s.clock.Now()
		hostelMessageByContact := make(map[string]string, len(byContact))
		for contact, group := range byContact {
			body := buildBatchIntimationBody(batchRef, group, beneficiaryByCMS)
			rendered, err := s.renderer.Render(ctx, template.RenderInput{
				TemplateName: "hostel_intimation_batch",
				Data: map[string]string{
					"batchRef": batchRef,
					"body":     body,
				},
			})
			if err != nil {
				return fmt.Errorf("%w: render batch intimation: %v", allocdomain.ErrSendFailed, err)
			}
			messageID, err := s.mail.Send(ctx, []string{contact}, nil, rendered.Subject, rendered.HTMLBody, nil)
			if err != nil {
				return fmt.Errorf("%w: send batch intimation to %s: %v", allocdomain.ErrSendFailed, contact, err)
			}
			hostelMessageByContact[contact] = messageID
		}

		allocRefs := make([]string, 0, len(pairs))
		pledgeByID := make(map[snowflake.ID]*pledgedomain.Pledge, len(pledges))
		for _, p := range pledges {
			pledgeByID[p.ID] = p
		}
		amountByPledge := make(map[snowflake.ID]int64, len(pledges))

		for _, pair := range pairs {
			allocRef := s.genID.NewAllocRef()
			b := beneficiaryByCMS[pair.CMSID]
			pledge := pledgeByID[pair.PledgeID]
			alloc := &allocdomain.Allocation{
				ID:                        s.genID.NextID(),
				OrgID:                     orgID,
				AllocRef:                  allocRef,
				CMSID:                     pair.CMSID,
				PledgeID:                  pair.PledgeID,
				VerifiedTotalAtCommit:     pledge.VerifiedTotal,
				Amount:                    pair.Amount,
				Status:                    allocdomain.StatusPendingHostel,
				HostelIntimationMessageID: strPtr(hostelMessageByContact[b.HostelContactEmail]),
				HostelIntimationAt:        &now,
				BatchID:                   strPtr(batchRef),
				CreatedAt:                 now,
			}
			if req.InstallmentRef != "" {
				alloc.InstallmentID = strPtr(req.InstallmentRef)
			}
			if err := s.allocationRepo.Insert(ctx, s.opsDB, alloc); err != nil {
				return fmt.Errorf("allocation: insert batch row: %w", err)
			}
			allocRefs = append(allocRefs, allocRef)
			amountByPledge[pair.PledgeID] += pair.Amount
		}

		for _, pledge := range pledges {
			amount := amountByPledge[pledge.ID]
			if amount == 0 {
				continue
			}

			// Donor intermediate email per pledge: best-effort, this
			// per-pledge notification never aborts the batch.
			rendered, rerr := s.renderer.Render(ctx, template.RenderInput{
				TemplateName: "donor_allocation_notice",
				Data: map[string]string{
					"batchRef": batchRef,
					"amount":   fmt.Sprintf("%d", amount),
				},
			})
			if rerr != nil {
				s.log.Warn("render batch donor notice failed", zap.Error(rerr))
			} else if _, serr := s.mail.SendOrReply(ctx, []string{pledge.DonorEmail}, rendered.Subject, rendered.HTMLBody, priorMessageIDs(pledge)); serr != nil {
				s.log.Warn("batch donor notice send failed", zap.String("pledgeRef", pledge.PledgeRef), zap.Error(serr))
			}

			balanceBefore := balanceFor(balances, pledge.ID) + amount
			newStatus := nextPledgeStatus(balanceBefore, amount)
			if verr := s.engine.Validator().Pledge(pledge.Status, newStatus); verr != nil {
				return fmt.Errorf("allocation: pledge transition %s: %w", pledge.PledgeRef, verr)
			}
			pledge.Status = newStatus
			pledge.UpdatedAt = now
			if err := s.pledgeRepo.UpdateStatusAndTotals(ctx, s.opsDB, pledge); err != nil {
				return fmt.Errorf("allocation: update pledge %s: %w", pledge.PledgeRef, err)
			}
		}

		s.audit.Record(ctx, auditdomain.Entry{
			OrgID:      orgID,
			ActorType:  auditdomain.ActorTypeSystem,
			Kind:       auditdomain.KindAllocation,
			TargetType: "batch",
			TargetID:   batchRef,
			Action:     "batch_allocation_created",
			After:      map[string]any{"allocRefs": allocRefs},
		})

		for _, b := range beneficiaryByCMS {
			s.recomputeBeneficiaryTotals(ctx, orgID, b)
		}

		result = &allocdomain.BatchResult{BatchRef: batchRef, AllocRefs: allocRefs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func balanceFor(balances []pledgeBalance, pledgeID snowflake.ID) int64 {
	for _, b := range balances {
		if b.PledgeID == pledgeID {
			return b.Remaining
		}
	}
	return 0
}

func buildBatchIntimationBody(batchRef string, pairs []allocationPair, beneficiaries map[string]*beneficiarydomain.Beneficiary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s\n", batchRef)
	for _, pair := range pairs {
		name := pair.CMSID
		if ben, ok := beneficiaries[pair.CMSID]; ok {
			name = ben.Name
		}
		fmt.Fprintf(&b, "%s (%s): %d\n", name, pair.CMSID, pair.Amount)
	}
	return b.String()
}
