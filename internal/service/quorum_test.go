package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artisanerp/be-approvals/internal/repository"
)

func quorumStep(policy repository.StepPolicy, userIDs ...int64) *repository.ApprovalStep {
	step := &repository.ApprovalStep{ID: 10, StepOrder: 1, Policy: policy}
	for i, id := range userIDs {
		step.Users = append(step.Users, &repository.ApprovalStepUser{
			UserID:    id,
			UserOrder: i + 1,
			IsActive:  true,
		})
	}
	return step
}

func approvals(stepID int64, userIDs ...int64) []*repository.ApprovalRecord {
	var out []*repository.ApprovalRecord
	for _, id := range userIDs {
		out = append(out, &repository.ApprovalRecord{
			StepID:     stepID,
			ApproverID: id,
			Action:     repository.ActionApprove,
		})
	}
	return out
}

func TestStepSatisfied(t *testing.T) {
	tests := []struct {
		name      string
		policy    repository.StepPolicy
		users     []int64
		approvers []int64
		want      bool
	}{
		{"single none", repository.PolicySingle, []int64{1, 2, 3}, nil, false},
		{"single one", repository.PolicySingle, []int64{1, 2, 3}, []int64{2}, true},

		{"all partial", repository.PolicyAll, []int64{1, 2, 3}, []int64{1, 2}, false},
		{"all complete", repository.PolicyAll, []int64{1, 2, 3}, []int64{1, 2, 3}, true},
		{"all single user", repository.PolicyAll, []int64{1}, []int64{1}, true},

		{"majority of three needs two", repository.PolicyMajority, []int64{1, 2, 3}, []int64{1}, false},
		{"majority of three two", repository.PolicyMajority, []int64{1, 2, 3}, []int64{1, 3}, true},
		{"majority of four split", repository.PolicyMajority, []int64{1, 2, 3, 4}, []int64{1, 2}, false},
		{"majority of four three", repository.PolicyMajority, []int64{1, 2, 3, 4}, []int64{1, 2, 4}, true},
		{"majority of one", repository.PolicyMajority, []int64{1}, []int64{1}, true},

		{"sequential none", repository.PolicySequential, []int64{1, 2, 3}, nil, false},
		{"sequential partial", repository.PolicySequential, []int64{1, 2, 3}, []int64{1, 2}, false},
		{"sequential out of order complete", repository.PolicySequential, []int64{1, 2, 3}, []int64{3, 1, 2}, true},
		{"sequential complete", repository.PolicySequential, []int64{1, 2, 3}, []int64{1, 2, 3}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			step := quorumStep(tc.policy, tc.users...)
			got := stepSatisfied(step, approvals(step.ID, tc.approvers...))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStepSatisfiedIgnoresOtherActions(t *testing.T) {
	step := quorumStep(repository.PolicySingle, 1, 2)

	records := []*repository.ApprovalRecord{
		{StepID: step.ID, ApproverID: 1, Action: repository.ActionDelegate},
		{StepID: step.ID, ApproverID: 2, Action: repository.ActionWithdraw},
	}
	assert.False(t, stepSatisfied(step, records))

	records = append(records, &repository.ApprovalRecord{
		StepID: 99, ApproverID: 1, Action: repository.ActionApprove,
	})
	assert.False(t, stepSatisfied(step, records), "approvals on other steps must not count")
}

func TestStepSatisfiedCountsOnlyActiveUsers(t *testing.T) {
	step := quorumStep(repository.PolicyAll, 1, 2, 3)
	step.Users[2].IsActive = false

	// Two active users, both approved.
	assert.True(t, stepSatisfied(step, approvals(step.ID, 1, 2)))
}
