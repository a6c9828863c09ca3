package ledgerengine

import (
	"testing"

	allocdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/stretchr/testify/require"
)

func TestValidator_Pledge(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.Pledge(pledgedomain.PledgeStatusPledged, pledgedomain.PledgeStatusPartialReceipt))
	require.NoError(t, v.Pledge(pledgedomain.PledgeStatusProofSubmitted, pledgedomain.PledgeStatusVerified))
	require.NoError(t, v.Pledge(pledgedomain.PledgeStatusFullyAllocated, pledgedomain.PledgeStatusClosed))

	err := v.Pledge(pledgedomain.PledgeStatusClosed, pledgedomain.PledgeStatusPledged)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = v.Pledge(pledgedomain.PledgeStatusPledged, pledgedomain.PledgeStatusFullyAllocated)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestValidator_Allocation(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.Allocation(allocdomain.StatusPendingHostel, allocdomain.StatusHostelVerified))
	require.NoError(t, v.Allocation(allocdomain.StatusHostelQuery, allocdomain.StatusPendingHostel))

	err := v.Allocation(allocdomain.StatusCompleted, allocdomain.StatusPendingHostel)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestValidator_AllowAny(t *testing.T) {
	v := &Validator{AllowAny: true}
	require.NoError(t, v.Pledge(pledgedomain.PledgeStatusClosed, pledgedomain.PledgeStatusPledged))
}
