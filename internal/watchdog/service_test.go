package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/ai"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	"github.com/pledgeflow/reconciler/internal/providers/template"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeMail struct {
	threads map[string]*mail.ThreadContext
	labels  map[string]map[string]bool
	sent    int
}

func newFakeMail() *fakeMail {
	return &fakeMail{threads: map[string]*mail.ThreadContext{}, labels: map[string]map[string]bool{}}
}

func (f *fakeMail) Send(ctx context.Context, to, cc []string, subject, htmlBody string, attachments []mail.Attachment) (string, error) {
	f.sent++
	return "id:sent", nil
}

func (f *fakeMail) SendOrReply(ctx context.Context, to []string, subject, body string, priorIDs []string) (string, error) {
	f.sent++
	return "id:reply", nil
}

func (f *fakeMail) Search(ctx context.Context, headerID string) (*mail.Thread, error) { return nil, nil }

func (f *fakeMail) IngestInbound(ctx context.Context, in mail.InboundMessage) (*mail.Thread, error) {
	return nil, nil
}

func (f *fakeMail) GetThreadContext(ctx context.Context, thread *mail.Thread, maxHistory int) (*mail.ThreadContext, error) {
	return f.threads[thread.ThreadID], nil
}

func (f *fakeMail) GetOrCreateLabel(ctx context.Context, name string) (string, error) { return name, nil }

func (f *fakeMail) AddLabel(ctx context.Context, thread *mail.Thread, label string) error {
	set, ok := f.labels[thread.ThreadID]
	if !ok {
		set = map[string]bool{}
		f.labels[thread.ThreadID] = set
	}
	set[label] = true
	return nil
}

func (f *fakeMail) RemoveLabel(ctx context.Context, thread *mail.Thread, label string) error {
	if set, ok := f.labels[thread.ThreadID]; ok {
		delete(set, label)
	}
	return nil
}

func (f *fakeMail) ThreadHasLabel(ctx context.Context, thread *mail.Thread, label string) (bool, error) {
	return f.labels[thread.ThreadID][label], nil
}

func (f *fakeMail) ThreadsByLabel(ctx context.Context, label string, excludeLabels []string) ([]*mail.Thread, error) {
	var out []*mail.Thread
	for id, set := range f.labels {
		if !set[label] {
			continue
		}
		excluded := false
		for _, ex := range excludeLabels {
			if set[ex] {
				excluded = true
			}
		}
		if !excluded {
			out = append(out, &mail.Thread{ThreadID: id})
		}
	}
	return out, nil
}

type fakeOracle struct{ replyResult *ai.ReplyAnalysis }

func (f *fakeOracle) ExtractReceipts(ctx context.Context, emailText string, attachments []ai.Attachment, pledgeDate, emailDate string, expectedAmount int64) (*ai.ReceiptAnalysis, error) {
	return nil, nil
}

func (f *fakeOracle) ClassifyReply(ctx context.Context, emailText string, openAllocations []string) (*ai.ReplyAnalysis, error) {
	return f.replyResult, nil
}

type fakeRenderer struct{}

func (f *fakeRenderer) Render(ctx context.Context, input template.RenderInput) (*template.RenderOutput, error) {
	return &template.RenderOutput{Subject: "subject: " + input.TemplateName, HTMLBody: "body"}, nil
}

type fakePledgeRepo struct {
	byRef map[string]*pledgedomain.Pledge
	byID  map[snowflake.ID]*pledgedomain.Pledge
}

func (r *fakePledgeRepo) Insert(ctx context.Context, db *gorm.DB, pledge *pledgedomain.Pledge) error {
	return nil
}
func (r *fakePledgeRepo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*pledgedomain.Pledge, error) {
	return r.byID[id], nil
}
func (r *fakePledgeRepo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*pledgedomain.Pledge, error) {
	return r.byID[id], nil
}
func (r *fakePledgeRepo) FindByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*pledgedomain.Pledge, error) {
	return r.byRef[ref], nil
}
func (r *fakePledgeRepo) CountByYear(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int) (int64, error) {
	return 0, nil
}
func (r *fakePledgeRepo) UpdateStatusAndTotals(ctx context.Context, db *gorm.DB, pledge *pledgedomain.Pledge) error {
	r.byRef[pledge.PledgeRef] = pledge
	r.byID[pledge.ID] = pledge
	return nil
}
func (r *fakePledgeRepo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter pledgedomain.ListFilter) ([]*pledgedomain.Pledge, error) {
	return nil, nil
}

type fakeAllocationRepo struct {
	byID    map[snowflake.ID]*allocdomain.Allocation
	updated []*allocdomain.Allocation
}

func newFakeAllocationRepo() *fakeAllocationRepo {
	return &fakeAllocationRepo{byID: map[snowflake.ID]*allocdomain.Allocation{}}
}

func (r *fakeAllocationRepo) Insert(ctx context.Context, db *gorm.DB, alloc *allocdomain.Allocation) error {
	r.byID[alloc.ID] = alloc
	return nil
}
func (r *fakeAllocationRepo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*allocdomain.Allocation, error) {
	return r.byID[id], nil
}
func (r *fakeAllocationRepo) FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) ([]*allocdomain.Allocation, error) {
	var out []*allocdomain.Allocation
	for _, a := range r.byID {
		if a.PledgeID == pledgeID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (r *fakeAllocationRepo) SumByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error) {
	return 0, nil
}
func (r *fakeAllocationRepo) SumPendingByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (int64, error) {
	return 0, nil
}
func (r *fakeAllocationRepo) SumByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (int64, error) {
	return 0, nil
}
func (r *fakeAllocationRepo) FindByBatchID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, batchID string) ([]*allocdomain.Allocation, error) {
	return nil, nil
}
func (r *fakeAllocationRepo) FindByHostelIntimationMessageIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []string) ([]*allocdomain.Allocation, error) {
	return nil, nil
}
func (r *fakeAllocationRepo) FindPendingHostelByCMSID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) ([]*allocdomain.Allocation, error) {
	return nil, nil
}
func (r *fakeAllocationRepo) FindAllPendingHostel(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*allocdomain.Allocation, error) {
	var out []*allocdomain.Allocation
	for _, a := range r.byID {
		if a.Status == allocdomain.StatusPendingHostel {
			out = append(out, a)
		}
	}
	return out, nil
}
func (r *fakeAllocationRepo) UpdateStatusAndReply(ctx context.Context, db *gorm.DB, alloc *allocdomain.Allocation) error {
	r.byID[alloc.ID] = alloc
	r.updated = append(r.updated, alloc)
	return nil
}

type fakeAudit struct{ entries []auditdomain.Entry }

func (a *fakeAudit) Record(ctx context.Context, entry auditdomain.Entry) { a.entries = append(a.entries, entry) }
func (a *fakeAudit) List(ctx context.Context, orgID snowflake.ID, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(mailSvc *fakeMail, oracle *fakeOracle, pledges *fakePledgeRepo, allocs *fakeAllocationRepo, audit *fakeAudit) *Service {
	return &Service{
		db:             nil,
		log:            zap.NewNop(),
		clock:          clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		cfg:            config.Load(),
		pledgeRepo:     pledges,
		allocationRepo: allocs,
		audit:          audit,
		mail:           mailSvc,
		oracle:         oracle,
		renderer:       &fakeRenderer{},
	}
}

func TestSweep_ConfirmedReplyVerifiesAllocationAndNotifiesDonor(t *testing.T) {
	m := newFakeMail()
	m.threads["t1"] = &mail.ThreadContext{
		Current: mail.Message{MessageID: "id:hostel-reply", Subject: "Re: Ref: PLEDGE-2026-1", SentAt: time.Now().Format(time.RFC3339)},
		History: []mail.Message{{MessageID: "id:intimation", Subject: "Ref: PLEDGE-2026-1"}},
		Combined: "CURRENT:\nconfirmed",
	}
	m.labels["t1"] = map[string]bool{"Watchdog/Inbound": true}

	pledgeID := snowflake.ID(1001)
	pledge := &pledgedomain.Pledge{ID: pledgeID, PledgeRef: "PLEDGE-2026-1", DonorEmail: "donor@example.com", DonorName: "Jane Donor", Status: pledgedomain.PledgeStatusFullyAllocated}
	pledges := &fakePledgeRepo{byRef: map[string]*pledgedomain.Pledge{"PLEDGE-2026-1": pledge}, byID: map[snowflake.ID]*pledgedomain.Pledge{pledgeID: pledge}}

	allocID := snowflake.ID(2001)
	intimationID := "id:intimation"
	alloc := &allocdomain.Allocation{ID: allocID, AllocRef: "ALLOC-1", PledgeID: pledgeID, Amount: 25000, Status: allocdomain.StatusPendingHostel, HostelIntimationMessageID: &intimationID}
	allocs := newFakeAllocationRepo()
	allocs.byID[allocID] = alloc

	audit := &fakeAudit{}
	oracle := &fakeOracle{replyResult: &ai.ReplyAnalysis{Status: ai.ReplyConfirmedAll, ConfirmedAllocIDs: []string{"ALLOC-1"}}}
	svc := newTestService(m, oracle, pledges, allocs, audit)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Verified)
	require.Equal(t, 1, result.PledgesClosed)
	require.Equal(t, allocdomain.StatusHostelVerified, allocs.byID[allocID].Status)
	require.Equal(t, pledgedomain.PledgeStatusClosed, pledges.byRef["PLEDGE-2026-1"].Status)
	require.Equal(t, 1, m.sent)
	require.True(t, m.labels["t1"]["Watchdog/Processed"])

	var kinds []auditdomain.Kind
	for _, e := range audit.entries {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, auditdomain.KindHostelVerification)
	require.Contains(t, kinds, auditdomain.KindStatusChange)
}

func TestSweep_AmbiguousReplyRoutesToManualReview(t *testing.T) {
	m := newFakeMail()
	m.threads["t1"] = &mail.ThreadContext{
		Current:  mail.Message{MessageID: "id:hostel-reply", Subject: "Re: Ref: PLEDGE-2026-2", SentAt: time.Now().Format(time.RFC3339)},
		History:  []mail.Message{{MessageID: "id:intimation-2", Subject: "Ref: PLEDGE-2026-2"}},
		Combined: "CURRENT:\nwhich student is this for?",
	}
	m.labels["t1"] = map[string]bool{"Watchdog/Inbound": true}

	pledgeID := snowflake.ID(1002)
	pledge := &pledgedomain.Pledge{ID: pledgeID, PledgeRef: "PLEDGE-2026-2", DonorEmail: "donor2@example.com", Status: pledgedomain.PledgeStatusFullyAllocated}
	pledges := &fakePledgeRepo{byRef: map[string]*pledgedomain.Pledge{"PLEDGE-2026-2": pledge}, byID: map[snowflake.ID]*pledgedomain.Pledge{pledgeID: pledge}}

	allocID := snowflake.ID(2002)
	intimationID := "id:intimation-2"
	alloc := &allocdomain.Allocation{ID: allocID, AllocRef: "ALLOC-2", PledgeID: pledgeID, Amount: 25000, Status: allocdomain.StatusPendingHostel, HostelIntimationMessageID: &intimationID}
	allocs := newFakeAllocationRepo()
	allocs.byID[allocID] = alloc

	audit := &fakeAudit{}
	oracle := &fakeOracle{replyResult: &ai.ReplyAnalysis{Status: ai.ReplyAmbiguous, Reasoning: "reply does not name a student"}}
	svc := newTestService(m, oracle, pledges, allocs, audit)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Verified)
	require.Equal(t, 1, result.ManualReview)
	require.Equal(t, allocdomain.StatusHostelQuery, allocs.byID[allocID].Status)
	require.True(t, m.labels["t1"]["Watchdog/Manual-Review"])
	require.True(t, m.labels["t1"]["Watchdog/Processed"])
	require.Equal(t, 1, m.sent)

	var kinds []auditdomain.Kind
	for _, e := range audit.entries {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, auditdomain.KindAlert)
}

func TestSweep_NoMatchJustMarksProcessed(t *testing.T) {
	m := newFakeMail()
	m.threads["t1"] = &mail.ThreadContext{
		Current:  mail.Message{MessageID: "id:unrelated", Subject: "hello", SentAt: time.Now().Format(time.RFC3339)},
		Combined: "CURRENT:\nno ref here",
	}
	m.labels["t1"] = map[string]bool{"Watchdog/Inbound": true}

	pledges := &fakePledgeRepo{byRef: map[string]*pledgedomain.Pledge{}, byID: map[snowflake.ID]*pledgedomain.Pledge{}}
	allocs := newFakeAllocationRepo()
	audit := &fakeAudit{}
	svc := newTestService(m, &fakeOracle{}, pledges, allocs, audit)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Verified)
	require.Equal(t, 0, result.ManualReview)
	require.True(t, m.labels["t1"]["Watchdog/Processed"])
}
