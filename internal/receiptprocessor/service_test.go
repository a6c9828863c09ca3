package receiptprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/idgen"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/ai"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	receiptdomain "github.com/pledgeflow/reconciler/internal/receipt/domain"
	subscriptiondomain "github.com/pledgeflow/reconciler/internal/subscription/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

type fakeMail struct {
	threads     map[string]*mail.ThreadContext
	labels      map[string]map[string]bool
	sentReplies int
}

func newFakeMail() *fakeMail {
	return &fakeMail{
		threads: map[string]*mail.ThreadContext{},
		labels:  map[string]map[string]bool{},
	}
}

func (f *fakeMail) Send(ctx context.Context, to, cc []string, subject, htmlBody string, attachments []mail.Attachment) (string, error) {
	return "id:sent", nil
}

func (f *fakeMail) SendOrReply(ctx context.Context, to []string, subject, body string, priorIDs []string) (string, error) {
	f.sentReplies++
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

type fakeOracle struct {
	receiptResult *ai.ReceiptAnalysis
}

func (f *fakeOracle) ExtractReceipts(ctx context.Context, emailText string, attachments []ai.Attachment, pledgeDate, emailDate string, expectedAmount int64) (*ai.ReceiptAnalysis, error) {
	return f.receiptResult, nil
}

func (f *fakeOracle) ClassifyReply(ctx context.Context, emailText string, openAllocations []string) (*ai.ReplyAnalysis, error) {
	return nil, nil
}

type fakeBlob struct{ puts int }

func (f *fakeBlob) Put(ctx context.Context, filename string, content []byte) (string, error) {
	f.puts++
	return "handle-" + filename, nil
}

func (f *fakeBlob) Get(ctx context.Context, handle string) ([]byte, error) { return nil, nil }

type fakePledgeRepo struct {
	byRef map[string]*pledgedomain.Pledge
}

func (r *fakePledgeRepo) Insert(ctx context.Context, db *gorm.DB, pledge *pledgedomain.Pledge) error {
	return nil
}
func (r *fakePledgeRepo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*pledgedomain.Pledge, error) {
	return nil, nil
}
func (r *fakePledgeRepo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*pledgedomain.Pledge, error) {
	return nil, nil
}
func (r *fakePledgeRepo) FindByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*pledgedomain.Pledge, error) {
	return r.byRef[ref], nil
}
func (r *fakePledgeRepo) CountByYear(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int) (int64, error) {
	return 0, nil
}
func (r *fakePledgeRepo) UpdateStatusAndTotals(ctx context.Context, db *gorm.DB, pledge *pledgedomain.Pledge) error {
	r.byRef[pledge.PledgeRef] = pledge
	return nil
}
func (r *fakePledgeRepo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter pledgedomain.ListFilter) ([]*pledgedomain.Pledge, error) {
	return nil, nil
}

type fakeReceiptRepo struct {
	inserted []*receiptdomain.Receipt
}

func (r *fakeReceiptRepo) Insert(ctx context.Context, db *gorm.DB, receipt *receiptdomain.Receipt) error {
	r.inserted = append(r.inserted, receipt)
	return nil
}
func (r *fakeReceiptRepo) FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) ([]*receiptdomain.Receipt, error) {
	return r.inserted, nil
}
func (r *fakeReceiptRepo) SumVerified(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error) {
	var sum int64
	for _, r := range r.inserted {
		sum += r.VerifiedAmount
	}
	return sum, nil
}
func (r *fakeReceiptRepo) CountByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (int64, error) {
	return int64(len(r.inserted)), nil
}

type fakeSubscriptionRepo struct{}

func (r *fakeSubscriptionRepo) Insert(ctx context.Context, db *gorm.DB, s *subscriptiondomain.Subscription) error {
	return nil
}
func (r *fakeSubscriptionRepo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (r *fakeSubscriptionRepo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (r *fakeSubscriptionRepo) FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (r *fakeSubscriptionRepo) FindByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (r *fakeSubscriptionRepo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status subscriptiondomain.Status) ([]*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (r *fakeSubscriptionRepo) Update(ctx context.Context, db *gorm.DB, s *subscriptiondomain.Subscription) error {
	return nil
}

type fakeSubscriptionSvc struct{ recorded int }

func (s *fakeSubscriptionSvc) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (s *fakeSubscriptionSvc) DailySweep(ctx context.Context) (*subscriptiondomain.DailySweepResult, error) {
	return nil, nil
}
func (s *fakeSubscriptionSvc) RecordPayment(ctx context.Context, req subscriptiondomain.RecordPaymentRequest) error {
	s.recorded++
	return nil
}
func (s *fakeSubscriptionSvc) MonthlyAllocationBatch(ctx context.Context, year, month int) ([]subscriptiondomain.MonthlyBatchResult, error) {
	return nil, nil
}

type fakeAudit struct{ entries []auditdomain.Entry }

func (a *fakeAudit) Record(ctx context.Context, entry auditdomain.Entry) { a.entries = append(a.entries, entry) }
func (a *fakeAudit) List(ctx context.Context, orgID snowflake.ID, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(t *testing.T, mailSvc *fakeMail, oracle *fakeOracle, pledges *fakePledgeRepo, receipts *fakeReceiptRepo, subRepo *fakeSubscriptionRepo, subSvc *fakeSubscriptionSvc, audit *fakeAudit) *Service {
	t.Helper()
	return &Service{
		db:               nil,
		log:              zap.NewNop(),
		genID:            idgen.New(mustNode(t)),
		clock:            clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		cfg:              config.Load(),
		pledgeRepo:       pledges,
		receiptRepo:      receipts,
		subscriptionRepo: subRepo,
		subscriptionSvc:  subSvc,
		audit:            audit,
		mail:             mailSvc,
		oracle:           oracle,
		blob:             &fakeBlob{},
	}
}

func TestSweep_InternalSenderOnlyRemovesLabel(t *testing.T) {
	m := newFakeMail()
	m.threads["t1"] = &mail.ThreadContext{
		Current:  mail.Message{MessageID: "id:1", From: "uao@hostel.example.org", Subject: "Ref: PLEDGE-2026-1", SentAt: time.Now().Format(time.RFC3339)},
		Combined: "CURRENT:\nRef: PLEDGE-2026-1",
	}
	m.labels["t1"] = map[string]bool{"Receipts/To-Process": true}

	pledges := &fakePledgeRepo{byRef: map[string]*pledgedomain.Pledge{}}
	receipts := &fakeReceiptRepo{}
	subRepo := &fakeSubscriptionRepo{}
	subSvc := &fakeSubscriptionSvc{}
	audit := &fakeAudit{}
	svc := newTestService(t, m, &fakeOracle{}, pledges, receipts, subRepo, subSvc, audit)
	svc.cfg.InternalSenderDomains = []string{"hostel.example.org"}

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ThreadsScanned)
	require.False(t, m.labels["t1"]["Receipts/To-Process"])
	require.False(t, m.labels["t1"]["Receipts/Processed"])
}

func TestSweep_NoValidReceiptsGoesToManualReview(t *testing.T) {
	m := newFakeMail()
	m.threads["t1"] = &mail.ThreadContext{
		Current:  mail.Message{MessageID: "id:1", From: "donor@example.com", Subject: "Ref: PLEDGE-2026-1", SentAt: time.Now().Format(time.RFC3339)},
		Combined: "CURRENT:\nRef: PLEDGE-2026-1",
	}
	m.labels["t1"] = map[string]bool{"Receipts/To-Process": true}

	pledge := &pledgedomain.Pledge{PledgeRef: "PLEDGE-2026-1", CommittedAmount: 25000, Status: pledgedomain.PledgeStatusPledged}
	pledges := &fakePledgeRepo{byRef: map[string]*pledgedomain.Pledge{"PLEDGE-2026-1": pledge}}
	receipts := &fakeReceiptRepo{}
	subRepo := &fakeSubscriptionRepo{}
	subSvc := &fakeSubscriptionSvc{}
	audit := &fakeAudit{}
	oracle := &fakeOracle{receiptResult: &ai.ReceiptAnalysis{Category: ai.CategoryReceiptSubmission}}
	svc := newTestService(t, m, oracle, pledges, receipts, subRepo, subSvc, audit)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.RoutedToManualReview)
	require.True(t, m.labels["t1"]["Manual-Review"])
	require.False(t, m.labels["t1"]["Receipts/To-Process"])
}

func TestSweep_ValidReceiptUpdatesPledgeTotals(t *testing.T) {
	m := newFakeMail()
	m.threads["t1"] = &mail.ThreadContext{
		Current: mail.Message{
			MessageID: "id:1", From: "donor@example.com", Subject: "Ref: PLEDGE-2026-1", SentAt: time.Now().Format(time.RFC3339),
			Attachments: []mail.Attachment{{Filename: "receipt.pdf", MIMEType: "application/pdf", Content: []byte("bytes")}},
		},
		Combined: "CURRENT:\nRef: PLEDGE-2026-1",
	}
	m.labels["t1"] = map[string]bool{"Receipts/To-Process": true}

	pledge := &pledgedomain.Pledge{PledgeRef: "PLEDGE-2026-1", CommittedAmount: 25000, VerifiedTotal: 0, Status: pledgedomain.PledgeStatusPledged}
	pledges := &fakePledgeRepo{byRef: map[string]*pledgedomain.Pledge{"PLEDGE-2026-1": pledge}}
	receipts := &fakeReceiptRepo{}
	subRepo := &fakeSubscriptionRepo{}
	subSvc := &fakeSubscriptionSvc{}
	audit := &fakeAudit{}
	oracle := &fakeOracle{receiptResult: &ai.ReceiptAnalysis{
		Category: ai.CategoryReceiptSubmission,
		ValidReceipts: []ai.ValidReceipt{
			{Filename: "receipt.pdf", Amount: 25000, AmountDeclared: 25000, Date: "2026-03-01", SenderName: "Jane Donor", ConfidenceScore: ai.ConfidenceHigh},
		},
	}}
	svc := newTestService(t, m, oracle, pledges, receipts, subRepo, subSvc, audit)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ReceiptsPersisted)
	require.Len(t, receipts.inserted, 1)
	require.Equal(t, int64(25000), pledges.byRef["PLEDGE-2026-1"].VerifiedTotal)
	require.Equal(t, pledgedomain.PledgeStatusProofSubmitted, pledges.byRef["PLEDGE-2026-1"].Status)
	require.True(t, m.labels["t1"]["Receipts/Processed"])
	require.Len(t, audit.entries, 1)
	require.Equal(t, auditdomain.KindReceiptProcessed, audit.entries[0].Kind)
}

func TestSweep_SubscriptionPledgeRoutesToRecordPayment(t *testing.T) {
	m := newFakeMail()
	m.threads["t1"] = &mail.ThreadContext{
		Current:  mail.Message{MessageID: "id:1", From: "donor@example.com", Subject: "Ref: PLEDGE-2026-1", SentAt: time.Now().Format(time.RFC3339)},
		Combined: "CURRENT:\nRef: PLEDGE-2026-1",
	}
	m.labels["t1"] = map[string]bool{"Receipts/To-Process": true}

	pledge := &pledgedomain.Pledge{PledgeRef: "PLEDGE-2026-1", CommittedAmount: 300000, Status: pledgedomain.PledgeStatusPledged}
	pledges := &fakePledgeRepo{byRef: map[string]*pledgedomain.Pledge{"PLEDGE-2026-1": pledge}}
	receipts := &fakeReceiptRepo{}
	subRepo := &subscriptionRepoWithMatch{}
	subSvc := &fakeSubscriptionSvc{}
	audit := &fakeAudit{}
	svc := newTestService(t, m, &fakeOracle{}, pledges, receipts, subRepo, subSvc, audit)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.SubscriptionsRouted)
	require.Equal(t, 1, subSvc.recorded)
}

// subscriptionRepoWithMatch reports every pledge as already having a
// subscription, exercising the Receipt Processor's routing branch
// without needing a real subscription row.
type subscriptionRepoWithMatch struct{ fakeSubscriptionRepo }

func (r *subscriptionRepoWithMatch) FindByPledgeID(ctx context.Context, db *gorm.DB, orgID, pledgeID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return &subscriptiondomain.Subscription{SubscriptionRef: "PLEDGE-2026-1-SUB", MonthlyAmount: 25000}, nil
}
