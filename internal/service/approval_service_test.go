package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artisanerp/be-approvals/internal/errors"
	"github.com/artisanerp/be-approvals/internal/logger"
	"github.com/artisanerp/be-approvals/internal/repository"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func newTestServices(t *testing.T) (*FlowService, *ApprovalService) {
	t.Helper()
	store := repository.NewMemoryStore()
	flows := NewFlowService(store.FlowStore(), testLogger())
	approvals := NewApprovalService(flows, store.InstanceStore(), store.RecordStore(), nil, testLogger())
	return flows, approvals
}

func stepReq(order int, policy repository.StepPolicy, userIDs ...int64) CreateStepRequest {
	req := CreateStepRequest{
		Name:      "Step",
		StepOrder: order,
		Policy:    string(policy),
	}
	for i, id := range userIDs {
		req.Users = append(req.Users, CreateStepUserRequest{
			UserID:    id,
			UserOrder: i + 1,
			IsActive:  true,
		})
	}
	return req
}

func mustCreateFlow(t *testing.T, flows *FlowService, req *CreateFlowRequest) *repository.ApprovalFlow {
	t.Helper()
	flow, err := flows.CreateFlow(context.Background(), req)
	require.NoError(t, err)
	return flow
}

func mustSubmit(t *testing.T, approvals *ApprovalService, docID, submitter int64) *repository.ApprovalInstance {
	t.Helper()
	inst, err := approvals.Submit(context.Background(), &SubmitRequest{
		DocumentType:  string(repository.DocPurchaseOrder),
		DocumentID:    docID,
		SubmittedByID: submitter,
	})
	require.NoError(t, err)
	return inst
}

func act(approvals *ApprovalService, instanceID, approverID int64, action repository.RecordAction) (*repository.ApprovalInstance, error) {
	return approvals.Act(context.Background(), &ActRequest{
		InstanceID: instanceID,
		ApproverID: approverID,
		Action:     string(action),
	})
}

func TestSubmitNoMatchingFlow(t *testing.T) {
	_, approvals := newTestServices(t)

	_, err := approvals.Submit(context.Background(), &SubmitRequest{
		DocumentType:  string(repository.DocPurchaseOrder),
		DocumentID:    1,
		SubmittedByID: 7,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoMatchingFlow, errors.CodeOf(err))
}

func TestSubmitStartsAtFirstStep(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "PO approval",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicySingle, 100)},
	})

	inst := mustSubmit(t, approvals, 1, 7)
	assert.Equal(t, repository.StatusInProgress, inst.Status)
	assert.Equal(t, 1, inst.CurrentStepOrder)
	assert.Empty(t, inst.Records)
}

func TestSingleStepApproval(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "PO approval",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicySingle, 100, 101)},
	})

	inst := mustSubmit(t, approvals, 1, 7)

	inst, err := act(approvals, inst.ID, 100, repository.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, inst.Status)
	require.NotNil(t, inst.CompletedAt)
}

func TestMultiStepProgression(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "Two stage",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps: []CreateStepRequest{
			stepReq(1, repository.PolicySingle, 100),
			stepReq(2, repository.PolicyAll, 200, 201),
		},
	})

	inst := mustSubmit(t, approvals, 1, 7)

	// Second-step approver cannot act while step one is current.
	_, err := act(approvals, inst.ID, 200, repository.ActionApprove)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotAuthorized, errors.CodeOf(err))

	inst, err = act(approvals, inst.ID, 100, repository.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInProgress, inst.Status)
	assert.Equal(t, 2, inst.CurrentStepOrder)

	inst, err = act(approvals, inst.ID, 200, repository.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInProgress, inst.Status, "all policy needs both approvers")
	assert.Equal(t, 2, inst.CurrentStepOrder)

	inst, err = act(approvals, inst.ID, 201, repository.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, inst.Status)
}

func TestRejectTerminatesInstance(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "Two stage",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps: []CreateStepRequest{
			stepReq(1, repository.PolicyAll, 100, 101),
			stepReq(2, repository.PolicySingle, 200),
		},
	})

	inst := mustSubmit(t, approvals, 1, 7)

	_, err := act(approvals, inst.ID, 100, repository.ActionApprove)
	require.NoError(t, err)

	inst, err = act(approvals, inst.ID, 101, repository.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, inst.Status)
	require.NotNil(t, inst.CompletedAt)

	// Nothing further is accepted.
	_, err = act(approvals, inst.ID, 200, repository.ActionApprove)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyCompleted, errors.CodeOf(err))
}

func TestDoubleActRejected(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "Majority",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicyMajority, 100, 101, 102)},
	})

	inst := mustSubmit(t, approvals, 1, 7)

	_, err := act(approvals, inst.ID, 100, repository.ActionApprove)
	require.NoError(t, err)

	_, err = act(approvals, inst.ID, 100, repository.ActionApprove)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyActed, errors.CodeOf(err))

	// A second distinct approver completes the 2-of-3 majority.
	inst, err = act(approvals, inst.ID, 102, repository.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, inst.Status)
}

func TestDelegateRecordsWithoutAdvancing(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "Single",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicySingle, 100, 101)},
	})

	inst := mustSubmit(t, approvals, 1, 7)

	delegate := int64(999)
	inst, err := approvals.Act(context.Background(), &ActRequest{
		InstanceID:   inst.ID,
		ApproverID:   100,
		Action:       string(repository.ActionDelegate),
		DelegateToID: &delegate,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInProgress, inst.Status)
	assert.Equal(t, 1, inst.CurrentStepOrder)
	require.Len(t, inst.Records, 1)
	assert.Equal(t, repository.ActionDelegate, inst.Records[0].Action)

	// The delegatee never became an approver.
	_, err = act(approvals, inst.ID, delegate, repository.ActionApprove)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotAuthorized, errors.CodeOf(err))

	// The other listed approver still resolves the step.
	inst, err = act(approvals, inst.ID, 101, repository.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, inst.Status)
}

func TestCancel(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "Single",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicySingle, 100)},
	})

	inst := mustSubmit(t, approvals, 1, 7)

	// Only the submitter may cancel.
	_, err := approvals.Cancel(context.Background(), inst.ID, 100, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	reason := "ordered by mistake"
	inst, err = approvals.Cancel(context.Background(), inst.ID, 7, &reason)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCancelled, inst.Status)
	require.NotNil(t, inst.Notes)
	assert.Equal(t, reason, *inst.Notes)

	// Cancelling a terminal instance fails.
	_, err = approvals.Cancel(context.Background(), inst.ID, 7, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyCompleted, errors.CodeOf(err))
}

func TestListPending(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "Two stage",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps: []CreateStepRequest{
			stepReq(1, repository.PolicySingle, 100),
			stepReq(2, repository.PolicySingle, 200),
		},
	})

	a := mustSubmit(t, approvals, 1, 7)
	b := mustSubmit(t, approvals, 2, 7)

	page, err := approvals.ListPending(context.Background(), 100, repository.PendingQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	// User 200 sees nothing until an instance reaches step two.
	page, err = approvals.ListPending(context.Background(), 200, repository.PendingQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	_, err = act(approvals, a.ID, 100, repository.ActionApprove)
	require.NoError(t, err)

	page, err = approvals.ListPending(context.Background(), 200, repository.PendingQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, a.ID, page.Instances[0].ID)

	page, err = approvals.ListPending(context.Background(), 100, repository.PendingQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, b.ID, page.Instances[0].ID)
}

func TestHistoryOrdering(t *testing.T) {
	flows, approvals := newTestServices(t)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:     "All of three",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicyAll, 100, 101, 102)},
	})

	inst := mustSubmit(t, approvals, 1, 7)

	for _, approver := range []int64{101, 100, 102} {
		_, err := act(approvals, inst.ID, approver, repository.ActionApprove)
		require.NoError(t, err)
	}

	records, err := approvals.History(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(101), records[0].ApproverID)
	assert.Equal(t, int64(100), records[1].ApproverID)
	assert.Equal(t, int64(102), records[2].ApproverID)

	_, err = approvals.History(context.Background(), 9999)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestSubmitAmountSelectsFlow(t *testing.T) {
	flows, approvals := newTestServices(t)

	low := decimal.NewFromInt(1000)
	high := decimal.NewFromInt(5000)
	mustCreateFlow(t, flows, &CreateFlowRequest{
		Name:      "Mid-range",
		Type:      string(repository.DocPurchaseOrder),
		IsActive:  true,
		MinAmount: &low,
		MaxAmount: &high,
		Steps:     []CreateStepRequest{stepReq(1, repository.PolicySingle, 100)},
	})

	amount := decimal.NewFromInt(500)
	_, err := approvals.Submit(context.Background(), &SubmitRequest{
		DocumentType:  string(repository.DocPurchaseOrder),
		DocumentID:    1,
		Amount:        &amount,
		SubmittedByID: 7,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoMatchingFlow, errors.CodeOf(err))

	amount = decimal.NewFromInt(6000)
	_, err = approvals.Submit(context.Background(), &SubmitRequest{
		DocumentType:  string(repository.DocPurchaseOrder),
		DocumentID:    2,
		Amount:        &amount,
		SubmittedByID: 7,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoMatchingFlow, errors.CodeOf(err))

	amount = decimal.NewFromInt(2500)
	inst, err := approvals.Submit(context.Background(), &SubmitRequest{
		DocumentType:  string(repository.DocPurchaseOrder),
		DocumentID:    3,
		Amount:        &amount,
		SubmittedByID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInProgress, inst.Status)
}
