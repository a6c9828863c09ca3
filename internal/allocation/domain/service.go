package domain

import (
	"context"
	"errors"
)

// Sentinel errors mirror the control-flow vocabulary callers branch on,
// not any database or transport error.
var (
	ErrBusy             = errors.New("allocation: busy")
	ErrInvalidAmount    = errors.New("allocation: invalid amount")
	ErrPledgeNotFound   = errors.New("allocation: pledge not found")
	ErrNoProof          = errors.New("allocation: no proof of transfer on pledge")
	ErrInsufficientFunds = errors.New("allocation: insufficient funds")
	ErrUnknownStudent   = errors.New("allocation: unknown student")
	ErrExceedsNeed      = errors.New("allocation: exceeds student need")
	ErrSendFailed       = errors.New("allocation: outbound mail send failed")
	ErrNoLinkedStudents = errors.New("allocation: no linked students")
)

// StudentTarget is a per-student batch input: either a bare cmsId
// (Amount == 0, meaning "equal split") or an explicit target.
type StudentTarget struct {
	CMSID  string
	Amount int64
}

// SingleRequest is processAllocation's input.
type SingleRequest struct {
	PledgeRef string
	CMSID     string
	RawAmount string // pre-parse form: may carry k/m suffixes, commas
}

// SingleResult is what the single-allocation transaction committed.
type SingleResult struct {
	AllocRef string
}

// BatchRequest is processBatchAllocation's input.
type BatchRequest struct {
	PledgeRefs []string
	Students   []StudentTarget
	// InstallmentRef tags every resulting allocation row, set only when
	// the monthly subscription batch is the caller.
	InstallmentRef string
}

// BatchResult is what the batch transaction committed.
type BatchResult struct {
	BatchRef   string
	AllocRefs  []string
}

// Service owns the "alloc" critical section: matching a verified pledge's
// funds to the students it is allocated to.
type Service interface {
	ProcessAllocation(ctx context.Context, req SingleRequest) (*SingleResult, error)
	ProcessBatchAllocation(ctx context.Context, req BatchRequest) (*BatchResult, error)
}
