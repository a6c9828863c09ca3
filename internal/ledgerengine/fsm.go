// Package ledgerengine computes real-time ledger balances and validates
// every status transition against compile-time adjacency maps. Nothing
// here persists state: callers read the result and write it through
// their own repository inside the allocation lock.
package ledgerengine

import (
	"errors"

	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	installmentdomain "github.com/pledgeflow/reconciler/internal/installment/domain"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	subscriptiondomain "github.com/pledgeflow/reconciler/internal/subscription/domain"
)

// ErrInvalidTransition means an FSM guard rejected a status write before
// anything was persisted.
var ErrInvalidTransition = errors.New("ledgerengine: invalid transition")

var pledgeFSM = map[pledgedomain.PledgeStatus][]pledgedomain.PledgeStatus{
	pledgedomain.PledgeStatusPledged: {
		pledgedomain.PledgeStatusPartialReceipt,
		pledgedomain.PledgeStatusProofSubmitted,
		pledgedomain.PledgeStatusCancelled,
	},
	pledgedomain.PledgeStatusPartialReceipt: {
		pledgedomain.PledgeStatusPartialReceipt,
		pledgedomain.PledgeStatusProofSubmitted,
		pledgedomain.PledgeStatusCancelled,
	},
	pledgedomain.PledgeStatusProofSubmitted: {
		pledgedomain.PledgeStatusVerified,
		pledgedomain.PledgeStatusPartiallyAllocated,
		pledgedomain.PledgeStatusRejected,
	},
	pledgedomain.PledgeStatusVerified: {
		pledgedomain.PledgeStatusPartiallyAllocated,
		pledgedomain.PledgeStatusFullyAllocated,
	},
	pledgedomain.PledgeStatusPartiallyAllocated: {
		pledgedomain.PledgeStatusFullyAllocated,
		pledgedomain.PledgeStatusVerified,
	},
	pledgedomain.PledgeStatusFullyAllocated: {
		pledgedomain.PledgeStatusClosed,
		pledgedomain.PledgeStatusPartiallyAllocated,
	},
	pledgedomain.PledgeStatusClosed: {},
}

var allocationFSM = map[allocdomain.Status][]allocdomain.Status{
	allocdomain.StatusPendingHostel: {
		allocdomain.StatusHostelVerified,
		allocdomain.StatusHostelQuery,
		allocdomain.StatusCancelled,
	},
	allocdomain.StatusHostelQuery: {
		allocdomain.StatusPendingHostel,
		allocdomain.StatusCancelled,
	},
	allocdomain.StatusHostelVerified: {
		allocdomain.StatusStudentVerification,
	},
	allocdomain.StatusStudentVerification: {
		allocdomain.StatusCompleted,
		allocdomain.StatusDisputed,
	},
	allocdomain.StatusCompleted: {},
}

var subscriptionFSM = map[subscriptiondomain.Status][]subscriptiondomain.Status{
	subscriptiondomain.StatusActive: {
		subscriptiondomain.StatusOverdue,
		subscriptiondomain.StatusCompleted,
		subscriptiondomain.StatusCancelled,
		subscriptiondomain.StatusPaused,
	},
	subscriptiondomain.StatusOverdue: {
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusLapsed,
		subscriptiondomain.StatusCompleted,
		subscriptiondomain.StatusCancelled,
		subscriptiondomain.StatusPaused,
	},
	subscriptiondomain.StatusLapsed: {
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusCompleted,
		subscriptiondomain.StatusCancelled,
		subscriptiondomain.StatusPaused,
	},
	subscriptiondomain.StatusPaused: {
		subscriptiondomain.StatusActive,
	},
	subscriptiondomain.StatusCompleted: {},
	subscriptiondomain.StatusCancelled: {},
}

var installmentFSM = map[installmentdomain.Status][]installmentdomain.Status{
	installmentdomain.StatusPending: {
		installmentdomain.StatusReminded,
		installmentdomain.StatusReceived,
		installmentdomain.StatusMissed,
	},
	installmentdomain.StatusReminded: {
		installmentdomain.StatusReceived,
		installmentdomain.StatusMissed,
	},
	installmentdomain.StatusReceived: {
		installmentdomain.StatusAllocated,
	},
	installmentdomain.StatusMissed:    {},
	installmentdomain.StatusAllocated: {},
}

// transition checks from -> to against fsm. AllowAny bypasses the check
// entirely; it exists only for the one-time bulk-migration collaborator
// and is never set on any request-path validator.
func transition[T comparable](fsm map[T][]T, from, to T, allowAny bool) error {
	if allowAny {
		return nil
	}
	if from == to {
		return nil
	}
	edges, ok := fsm[from]
	if !ok {
		return ErrInvalidTransition
	}
	for _, e := range edges {
		if e == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Validator wraps the four FSM tables with a one-time migration escape
// hatch: unknown->anything is allowed only for bulk migration. AllowAny
// must stay false for every validator built from normal request paths.
type Validator struct {
	AllowAny bool
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) Pledge(from, to pledgedomain.PledgeStatus) error {
	return transition(pledgeFSM, from, to, v.AllowAny)
}

func (v *Validator) Allocation(from, to allocdomain.Status) error {
	return transition(allocationFSM, from, to, v.AllowAny)
}

func (v *Validator) Subscription(from, to subscriptiondomain.Status) error {
	return transition(subscriptionFSM, from, to, v.AllowAny)
}

func (v *Validator) Installment(from, to installmentdomain.Status) error {
	return transition(installmentFSM, from, to, v.AllowAny)
}
