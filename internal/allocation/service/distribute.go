package service

import "github.com/bwmarrin/snowflake"

// pledgeBalance is one donor pledge's remaining real-time balance at the
// moment the batch started, ordered the same way the caller supplied
// PledgeRefs in BatchRequest.
type pledgeBalance struct {
	PledgeID  snowflake.ID
	PledgeRef string
	Remaining int64
}

// studentTarget is one beneficiary's already-need-capped draw target,
// ordered the same way the caller supplied Students in BatchRequest.
type studentTarget struct {
	CMSID  string
	Target int64
}

// allocationPair is one (pledge, student) line the batch will write as an
// Allocation row.
type allocationPair struct {
	PledgeID  snowflake.ID
	PledgeRef string
	CMSID     string
	Amount    int64
}

// distribute runs a greedy deterministic split: walk students in input
// order, then pledges in input order, drawing min(pledgeRemaining,
// studentRemaining) at each step. Pledge balances are drawn down in place,
// so the caller can read each pledge's leftover Remaining afterwards;
// student targets are read into a local counter and left unchanged.
func distribute(pledges []pledgeBalance, students []studentTarget) []allocationPair {
	var pairs []allocationPair
	for si := range students {
		remaining := students[si].Target
		if remaining <= 0 {
			continue
		}
		for pi := range pledges {
			if remaining <= 0 {
				break
			}
			if pledges[pi].Remaining <= 0 {
				continue
			}
			take := pledges[pi].Remaining
			if remaining < take {
				take = remaining
			}
			pledges[pi].Remaining -= take
			remaining -= take
			pairs = append(pairs, allocationPair{
				PledgeID:  pledges[pi].PledgeID,
				PledgeRef: pledges[pi].PledgeRef,
				CMSID:     students[si].CMSID,
				Amount:    take,
			})
		}
	}
	return pairs
}

// equalSplitTarget handles the no-explicit-amounts branch: target =
// min(floor(totalAvailable/studentCount), studentNeed).
func equalSplitTarget(totalAvailable int64, studentCount int, need int64) int64 {
	if studentCount <= 0 {
		return 0
	}
	share := totalAvailable / int64(studentCount)
	if share > need {
		return need
	}
	return share
}
