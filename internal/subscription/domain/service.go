package domain

import (
	"context"
	"errors"
	"time"
)

// CreateRequest is the "Create" input, sourced from the inbound form
// event's pledgeType == "Monthly Recurring" branch.
type CreateRequest struct {
	PledgeID         string
	DonorEmail       string
	DonorName        string
	MonthlyAmount    int64
	DurationMonths   int
	StartDate        time.Time
	LinkedStudentIDs []string
}

// DailySweepResult reports what the 09:00-local reminder/overdue sweep
// did, for logging by the scheduler job.
type DailySweepResult struct {
	RemindersSent     int
	TransitionedToOverdue int
	TransitionedToLapsed  int
	InstallmentsMissed    int
}

// RecordPaymentRequest is recordSubscriptionPayment's input.
type RecordPaymentRequest struct {
	SubscriptionID  string
	BlobHandle      string
	OriginalFilename string
	AmountReceived  int64
	ReceivedDate    time.Time
	EmailMessageID  string
}

// MonthlyBatchResult reports the outcome of the monthly installment
// allocation batch for one subscription.
type MonthlyBatchResult struct {
	SubscriptionRef string
	Allocated       bool
	Reason          string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	DailySweep(ctx context.Context) (*DailySweepResult, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) error
	MonthlyAllocationBatch(ctx context.Context, year int, month int) ([]MonthlyBatchResult, error)
}

var (
	ErrInvalidRequest      = errors.New("subscription: invalid request")
	ErrSubscriptionNotFound = errors.New("subscription: not found")
	ErrNoPayableInstallment = errors.New("subscription: no payable installment")
)
