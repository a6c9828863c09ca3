// Package service implements the sanitized read API directly against
// the Operations store with raw SQL aggregation queries. It never holds
// a reference to the Confidential gorm connection, so beneficiary PII
// (name, gender) cannot leak through this package even by accident:
// cmsId comes from the allocations table and school from
// beneficiary_aggregates, the non-PII projection internal/allocation/service
// keeps in sync.
package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bwmarrin/snowflake"
	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	readapi "github.com/pledgeflow/reconciler/internal/readapi/domain"
	subscriptiondomain "github.com/pledgeflow/reconciler/internal/subscription/domain"
	"github.com/pledgeflow/reconciler/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB `name:"operations"`
	Log   *zap.Logger
	Audit auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	audit auditdomain.Service
}

func NewService(p Params) readapi.Service {
	return &Service{db: p.DB, log: p.Log.Named("readapi.service"), audit: p.Audit}
}

func orgFromCtx(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, readapi.ErrInvalidOrganization
	}
	return orgID, nil
}

func (s *Service) Summary(ctx context.Context) (readapi.SummaryResponse, error) {
	orgID, err := orgFromCtx(ctx)
	if err != nil {
		return readapi.SummaryResponse{}, err
	}

	var resp readapi.SummaryResponse
	row := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(committed_amount), 0), COALESCE(SUM(verified_total), 0)
		 FROM pledges WHERE org_id = ?`, orgID,
	).Row()
	if err := row.Scan(&resp.TotalPledged, &resp.TotalVerified); err != nil {
		return readapi.SummaryResponse{}, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM allocations WHERE org_id = ? AND status <> ?`,
		orgID, allocdomain.StatusCancelled,
	).Row().Scan(&resp.TotalAllocated); err != nil {
		return readapi.SummaryResponse{}, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM pledges WHERE org_id = ? AND status NOT IN (?, ?, ?)`,
		orgID, pledgedomain.PledgeStatusClosed, pledgedomain.PledgeStatusRejected, pledgedomain.PledgeStatusCancelled,
	).Row().Scan(&resp.OpenPledgeCount); err != nil {
		return readapi.SummaryResponse{}, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM pledges WHERE org_id = ? AND status = ?`,
		orgID, pledgedomain.PledgeStatusClosed,
	).Row().Scan(&resp.ClosedPledgeCount); err != nil {
		return readapi.SummaryResponse{}, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM allocations WHERE org_id = ? AND status IN (?, ?)`,
		orgID, allocdomain.StatusPendingHostel, allocdomain.StatusHostelQuery,
	).Row().Scan(&resp.PendingHostelReplyCount); err != nil {
		return readapi.SummaryResponse{}, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM subscriptions WHERE org_id = ? AND status = ?`,
		orgID, subscriptiondomain.StatusActive,
	).Row().Scan(&resp.ActiveSubscriptionCount); err != nil {
		return readapi.SummaryResponse{}, err
	}

	return resp, nil
}

func (s *Service) Flow(ctx context.Context, months int) (readapi.FlowResponse, error) {
	orgID, err := orgFromCtx(ctx)
	if err != nil {
		return readapi.FlowResponse{}, err
	}
	if months <= 0 {
		months = 6
	}

	type row struct {
		Period    string
		Pledged   int64
		Verified  int64
		Allocated int64
	}
	var pledgedRows []row
	if err := s.db.WithContext(ctx).Raw(
		`SELECT to_char(submitted_at, 'YYYY-MM') AS period,
			COALESCE(SUM(committed_amount), 0) AS pledged,
			COALESCE(SUM(verified_total), 0) AS verified
		 FROM pledges
		 WHERE org_id = ? AND submitted_at >= (CURRENT_DATE - (? * INTERVAL '1 month'))
		 GROUP BY period ORDER BY period`,
		orgID, months,
	).Scan(&pledgedRows).Error; err != nil {
		return readapi.FlowResponse{}, err
	}

	type allocRow struct {
		Period    string
		Allocated int64
	}
	var allocRows []allocRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT to_char(created_at, 'YYYY-MM') AS period, COALESCE(SUM(amount), 0) AS allocated
		 FROM allocations
		 WHERE org_id = ? AND status <> ? AND created_at >= (CURRENT_DATE - (? * INTERVAL '1 month'))
		 GROUP BY period ORDER BY period`,
		orgID, allocdomain.StatusCancelled, months,
	).Scan(&allocRows).Error; err != nil {
		return readapi.FlowResponse{}, err
	}
	allocByPeriod := make(map[string]int64, len(allocRows))
	for _, a := range allocRows {
		allocByPeriod[a.Period] = a.Allocated
	}

	series := make([]readapi.FlowPoint, 0, len(pledgedRows))
	for _, p := range pledgedRows {
		series = append(series, readapi.FlowPoint{
			Period: p.Period, Pledged: p.Pledged, Verified: p.Verified, Allocated: allocByPeriod[p.Period],
		})
	}
	return readapi.FlowResponse{Series: series}, nil
}

func (s *Service) Chapters(ctx context.Context) (readapi.ChaptersResponse, error) {
	orgID, err := orgFromCtx(ctx)
	if err != nil {
		return readapi.ChaptersResponse{}, err
	}

	var rows []readapi.ChapterBreakdown
	err = s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(NULLIF(chapter, ''), 'Other') AS chapter,
			COUNT(*) AS pledge_count,
			COALESCE(SUM(committed_amount), 0) AS committed_total,
			COALESCE(SUM(verified_total), 0) AS verified_total
		 FROM pledges WHERE org_id = ?
		 GROUP BY chapter ORDER BY committed_total DESC`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return readapi.ChaptersResponse{}, err
	}
	return readapi.ChaptersResponse{Chapters: rows}, nil
}

func (s *Service) Composition(ctx context.Context) (readapi.CompositionResponse, error) {
	orgID, err := orgFromCtx(ctx)
	if err != nil {
		return readapi.CompositionResponse{}, err
	}

	var rows []readapi.CompositionSlice
	err = s.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count, COALESCE(SUM(committed_amount), 0) AS amount
		 FROM pledges WHERE org_id = ? GROUP BY status ORDER BY status`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return readapi.CompositionResponse{}, err
	}
	return readapi.CompositionResponse{Slices: rows}, nil
}

func (s *Service) Events(ctx context.Context, req readapi.EventsRequest) (readapi.EventsResponse, error) {
	orgID, err := orgFromCtx(ctx)
	if err != nil {
		return readapi.EventsResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	list, err := s.audit.List(ctx, orgID, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: req.PageToken, PageSize: int(pageSize)},
		Kind:       auditdomain.Kind(req.Kind),
	})
	if err != nil {
		return readapi.EventsResponse{}, err
	}

	events := make([]readapi.Event, 0, len(list.AuditLogs))
	for _, e := range list.AuditLogs {
		events = append(events, readapi.Event{
			Kind: string(e.Kind), TargetType: e.TargetType, TargetID: e.TargetID,
			Action: e.Action, CreatedAt: e.CreatedAt,
		})
	}
	return readapi.EventsResponse{Events: events, NextPageToken: list.PageInfo.NextPageToken}, nil
}

// Track answers the donor-facing timeline for a pledge: status, balances,
// and the allocations funded from it — addressed by cmsId and school,
// never a student name.
func (s *Service) Track(ctx context.Context, pledgeRef string) (readapi.TrackResponse, error) {
	orgID, err := orgFromCtx(ctx)
	if err != nil {
		return readapi.TrackResponse{}, err
	}

	var pledge struct {
		ID              snowflake.ID
		PledgeRef       string
		Status          string
		CommittedAmount int64
		VerifiedTotal   int64
		SubmittedAt     string
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT id, pledge_ref, status, committed_amount, verified_total, submitted_at::text
		 FROM pledges WHERE org_id = ? AND pledge_ref = ?`, orgID, pledgeRef,
	).Row().Scan(&pledge.ID, &pledge.PledgeRef, &pledge.Status, &pledge.CommittedAmount, &pledge.VerifiedTotal, &pledge.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return readapi.TrackResponse{}, readapi.ErrPledgeNotFound
	}
	if err != nil {
		return readapi.TrackResponse{}, err
	}

	type allocRow struct {
		AllocRef string
		CMSID    string
		School   string
		Amount   int64
		Status   string
	}
	var allocRows []allocRow
	err = s.db.WithContext(ctx).Raw(
		`SELECT a.alloc_ref, a.cms_id, COALESCE(b.school, '') AS school, a.amount, a.status
		 FROM allocations a
		 LEFT JOIN beneficiary_aggregates b ON b.org_id = a.org_id AND b.cms_id = a.cms_id
		 WHERE a.org_id = ? AND a.pledge_id = ? AND a.status <> ?
		 ORDER BY a.created_at ASC`,
		orgID, pledge.ID, allocdomain.StatusCancelled,
	).Scan(&allocRows).Error
	if err != nil {
		return readapi.TrackResponse{}, err
	}

	allocations := make([]readapi.TrackAllocation, 0, len(allocRows))
	var allocatedTotal int64
	for _, a := range allocRows {
		allocations = append(allocations, readapi.TrackAllocation{
			AllocRef: a.AllocRef, CMSID: a.CMSID, School: a.School, Amount: a.Amount, Status: a.Status,
		})
		allocatedTotal += a.Amount
	}

	events, err := s.audit.List(ctx, orgID, auditdomain.ListAuditLogRequest{
		TargetType: "pledge",
		TargetID:   pledge.PledgeRef,
	})
	if err != nil {
		s.log.Warn("track: load milestones failed", zap.Error(err))
	}
	milestones := make([]readapi.TrackMilestone, 0, len(events.AuditLogs))
	for _, e := range events.AuditLogs {
		milestones = append(milestones, readapi.TrackMilestone{Label: humanizeAction(e.Action), At: e.CreatedAt})
	}

	return readapi.TrackResponse{
		PledgeRef: pledge.PledgeRef, Status: pledge.Status,
		CommittedAmount: pledge.CommittedAmount, VerifiedTotal: pledge.VerifiedTotal,
		AllocatedTotal: allocatedTotal, Allocations: allocations, Milestones: milestones,
	}, nil
}

func humanizeAction(action string) string {
	if action == "" {
		return "update"
	}
	return action
}

