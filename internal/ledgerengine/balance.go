package ledgerengine

import (
	"context"

	"github.com/bwmarrin/snowflake"
	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	beneficiarydomain "github.com/pledgeflow/reconciler/internal/beneficiary/domain"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Params wires the two repositories balance/need computation reads from.
// Both read paths take the caller's *gorm.DB (often a transaction) rather
// than a package-level handle, so a read issued mid-critical-section
// observes every write the caller already flushed.
type Params struct {
	fx.In

	AllocationRepo  allocdomain.Repository
	BeneficiaryRepo beneficiarydomain.Repository
}

type Engine struct {
	allocationRepo  allocdomain.Repository
	beneficiaryRepo beneficiarydomain.Repository
	validator       *Validator
}

func New(p Params) *Engine {
	return &Engine{
		allocationRepo:  p.AllocationRepo,
		beneficiaryRepo: p.BeneficiaryRepo,
		validator:       NewValidator(),
	}
}

func (e *Engine) Validator() *Validator { return e.validator }

// RealTimePledgeBalance computes verifiedTotal -
// sum(allocations[pledgeId].amount).
func (e *Engine) RealTimePledgeBalance(ctx context.Context, db *gorm.DB, pledge *pledgedomain.Pledge) (int64, error) {
	allocated, err := e.allocationRepo.SumByPledgeID(ctx, db, pledge.OrgID, pledge.ID)
	if err != nil {
		return 0, err
	}
	return pledge.VerifiedTotal - allocated, nil
}

// RealTimeStudentNeed computes totalDue - sum(allocations[cmsId].amount).
// Returns (0, nil, false) when the beneficiary does not exist.
func (e *Engine) RealTimeStudentNeed(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cmsID string) (int64, *beneficiarydomain.Beneficiary, bool, error) {
	b, err := e.beneficiaryRepo.FindByCMSID(ctx, db, orgID, cmsID)
	if err != nil {
		return 0, nil, false, err
	}
	if b == nil {
		return 0, nil, false, nil
	}
	committed, err := e.allocationRepo.SumByCMSID(ctx, db, orgID, cmsID)
	if err != nil {
		return 0, nil, false, err
	}
	need := b.TotalDue - committed
	return need, b, true, nil
}
