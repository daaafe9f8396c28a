package service

import (
	"github.com/artisanerp/be-approvals/internal/repository"
)

// stepSatisfied decides whether a step's recorded approvals meet its quorum
// policy. Only approve-action records against this step count; approvals from
// users since deactivated still count toward the simple tallies, but only
// active users participate in the arithmetic's denominator.
func stepSatisfied(step *repository.ApprovalStep, records []*repository.ApprovalRecord) bool {
	approvers := make(map[int64]bool, len(records))
	for _, r := range records {
		if r.StepID == step.ID && r.Action == repository.ActionApprove {
			approvers[r.ApproverID] = true
		}
	}

	active := step.ActiveUsers()
	n := len(active)
	k := len(approvers)

	switch step.Policy {
	case repository.PolicySingle:
		return k >= 1

	case repository.PolicyAll:
		return k >= n

	case repository.PolicyMajority:
		// Strict majority: an even split is not enough.
		return k > n/2

	case repository.PolicySequential:
		// The contiguous-prefix rule is only satisfied once the last-ordered
		// user has approved, which requires every active user's approval, so
		// satisfaction reduces to full coverage regardless of user order.
		for _, u := range active {
			if !approvers[u.UserID] {
				return false
			}
		}
		return n > 0
	}

	return false
}
