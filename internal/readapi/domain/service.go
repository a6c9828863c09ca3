// Package domain defines the sanitized read API: six read-only aggregate
// endpoints — summary, flow, chapters, composition, events, track — that
// a dashboard polls keyed by api-key.
// Every response type here is hand-built from aggregate-only fields
// (cmsId, school, counts, amounts); none embeds a
// Pledge or Beneficiary struct, so a PII leak would be a compile error
// rather than a runtime filtering bug.
package domain

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidOrganization = errors.New("readapi: invalid organization")
var ErrPledgeNotFound = errors.New("readapi: pledge not found")

// SummaryResponse is the top-line dashboard tile set.
type SummaryResponse struct {
	TotalPledged      int64 `json:"total_pledged"`
	TotalVerified     int64 `json:"total_verified"`
	TotalAllocated    int64 `json:"total_allocated"`
	OpenPledgeCount   int   `json:"open_pledge_count"`
	ClosedPledgeCount int   `json:"closed_pledge_count"`
	PendingHostelReplyCount int `json:"pending_hostel_reply_count"`
	ActiveSubscriptionCount int `json:"active_subscription_count"`
}

// FlowPoint is one bucket of the pledge-to-allocation funnel over time.
type FlowPoint struct {
	Period    string `json:"period"`
	Pledged   int64  `json:"pledged"`
	Verified  int64  `json:"verified"`
	Allocated int64  `json:"allocated"`
}

type FlowResponse struct {
	Series []FlowPoint `json:"series"`
}

// ChapterBreakdown is a per-chapter aggregate, no donor identity.
type ChapterBreakdown struct {
	Chapter        string `json:"chapter"`
	PledgeCount    int    `json:"pledge_count"`
	CommittedTotal int64  `json:"committed_total"`
	VerifiedTotal  int64  `json:"verified_total"`
}

type ChaptersResponse struct {
	Chapters []ChapterBreakdown `json:"chapters"`
}

// CompositionSlice is one slice of the pledge-status pie chart.
type CompositionSlice struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
	Amount int64  `json:"amount"`
}

type CompositionResponse struct {
	Slices []CompositionSlice `json:"slices"`
}

// EventsRequest pages through the audit trail, scoped read-only.
type EventsRequest struct {
	Kind      string
	PageToken string
	PageSize  int32
}

// Event is the audit log row shape stripped to what a dashboard may show:
// no Before/After payloads, since those can carry PII captured at write
// time (donor name in a NEW_PLEDGE event, for instance).
type Event struct {
	Kind       string    `json:"kind"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Action     string    `json:"action"`
	CreatedAt  time.Time `json:"created_at"`
}

type EventsResponse struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"next_page_token,omitempty"`
}

// TrackMilestone is one step of a donor-facing, PII-free pledge timeline.
type TrackMilestone struct {
	Label string    `json:"label"`
	At    time.Time `json:"at"`
}

// TrackResponse answers "where is my pledge" without naming a
// beneficiary: cmsId and school identify the recipient side, never a
// student name.
type TrackResponse struct {
	PledgeRef       string           `json:"pledge_ref"`
	Status          string           `json:"status"`
	CommittedAmount int64            `json:"committed_amount"`
	VerifiedTotal   int64            `json:"verified_total"`
	AllocatedTotal  int64            `json:"allocated_total"`
	Allocations     []TrackAllocation `json:"allocations"`
	Milestones      []TrackMilestone `json:"milestones"`
}

type TrackAllocation struct {
	AllocRef      string `json:"alloc_ref"`
	CMSID         string `json:"cms_id"`
	School        string `json:"school"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
}

// Service is the sanitized read API's read-only surface. Every method is
// scoped to the orgID carried in ctx by internal/orgcontext and reads the
// operations store only — see internal/readapi/service, which is never
// given the confidential gorm connection.
type Service interface {
	Summary(ctx context.Context) (SummaryResponse, error)
	Flow(ctx context.Context, months int) (FlowResponse, error)
	Chapters(ctx context.Context) (ChaptersResponse, error)
	Composition(ctx context.Context) (CompositionResponse, error)
	Events(ctx context.Context, req EventsRequest) (EventsResponse, error)
	Track(ctx context.Context, pledgeRef string) (TrackResponse, error)
}
