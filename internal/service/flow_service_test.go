package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artisanerp/be-approvals/internal/errors"
	"github.com/artisanerp/be-approvals/internal/repository"
)

func newFlowService(t *testing.T) *FlowService {
	t.Helper()
	return NewFlowService(repository.NewMemoryStore().FlowStore(), testLogger())
}

func TestCreateFlowValidation(t *testing.T) {
	svc := newFlowService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateFlowRequest
	}{
		{"missing name", &CreateFlowRequest{
			Type:  string(repository.DocPurchaseOrder),
			Steps: []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
		}},
		{"no steps", &CreateFlowRequest{
			Name: "Empty",
			Type: string(repository.DocPurchaseOrder),
		}},
		{"unknown type", &CreateFlowRequest{
			Name:  "Bad type",
			Type:  "shipping_manifest",
			Steps: []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
		}},
		{"unknown policy", &CreateFlowRequest{
			Name:  "Bad policy",
			Type:  string(repository.DocPurchaseOrder),
			Steps: []CreateStepRequest{stepReq(1, "unanimous", 1)},
		}},
		{"duplicate step order", &CreateFlowRequest{
			Name: "Dup orders",
			Type: string(repository.DocPurchaseOrder),
			Steps: []CreateStepRequest{
				stepReq(1, repository.PolicySingle, 1),
				stepReq(1, repository.PolicySingle, 2),
			},
		}},
		{"gap in step orders", &CreateFlowRequest{
			Name: "Gap",
			Type: string(repository.DocPurchaseOrder),
			Steps: []CreateStepRequest{
				stepReq(1, repository.PolicySingle, 1),
				stepReq(3, repository.PolicySingle, 2),
			},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateFlow(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
		})
	}
}

func TestCreateFlowRejectsInvertedAmountRange(t *testing.T) {
	svc := newFlowService(t)

	low := decimal.NewFromInt(100)
	high := decimal.NewFromInt(10)
	_, err := svc.CreateFlow(context.Background(), &CreateFlowRequest{
		Name:      "Inverted",
		Type:      string(repository.DocPurchaseOrder),
		MinAmount: &low,
		MaxAmount: &high,
		Steps:     []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestCreateFlowRequiresActiveApprover(t *testing.T) {
	svc := newFlowService(t)

	step := stepReq(1, repository.PolicySingle, 1)
	step.Users[0].IsActive = false

	_, err := svc.CreateFlow(context.Background(), &CreateFlowRequest{
		Name:  "Stalled",
		Type:  string(repository.DocPurchaseOrder),
		Steps: []CreateStepRequest{step},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestSelectFlowPriorityOrder(t *testing.T) {
	svc := newFlowService(t)
	ctx := context.Background()

	mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:     "Fallback",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Priority: 10,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
	})
	preferred := mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:     "Preferred",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Priority: 1,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicySingle, 2)},
	})

	flow, err := svc.SelectFlow(ctx, repository.DocPurchaseOrder, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, flow)
	assert.Equal(t, preferred.ID, flow.ID)
}

func TestSelectFlowSkipsNonMatching(t *testing.T) {
	svc := newFlowService(t)
	ctx := context.Background()

	low := decimal.NewFromInt(1000)
	mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:      "Big orders",
		Type:      string(repository.DocPurchaseOrder),
		IsActive:  true,
		Priority:  1,
		MinAmount: &low,
		Steps:     []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
	})
	urgent := mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:       "Urgent",
		Type:       string(repository.DocPurchaseOrder),
		IsActive:   true,
		Priority:   2,
		Conditions: map[string]any{"urgency": "high"},
		Steps:      []CreateStepRequest{stepReq(1, repository.PolicySingle, 2)},
	})

	// Small urgent order: amount rules out the first flow, conditions match
	// the second.
	amount := decimal.NewFromInt(50)
	flow, err := svc.SelectFlow(ctx, repository.DocPurchaseOrder, &amount,
		map[string]any{"urgency": "high"})
	require.NoError(t, err)
	require.NotNil(t, flow)
	assert.Equal(t, urgent.ID, flow.ID)

	// Small routine order matches nothing.
	flow, err = svc.SelectFlow(ctx, repository.DocPurchaseOrder, &amount,
		map[string]any{"urgency": "low"})
	require.NoError(t, err)
	assert.Nil(t, flow)

	// Wrong document type matches nothing.
	flow, err = svc.SelectFlow(ctx, repository.DocSaleOrder, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, flow)
}

func TestSelectFlowAmountBoundsInclusive(t *testing.T) {
	svc := newFlowService(t)
	ctx := context.Background()

	low := decimal.NewFromInt(1000)
	high := decimal.NewFromInt(5000)
	mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:      "Mid-range",
		Type:      string(repository.DocPurchaseOrder),
		IsActive:  true,
		MinAmount: &low,
		MaxAmount: &high,
		Steps:     []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
	})

	for _, amt := range []int64{1000, 3000, 5000} {
		amount := decimal.NewFromInt(amt)
		flow, err := svc.SelectFlow(ctx, repository.DocPurchaseOrder, &amount, nil)
		require.NoError(t, err)
		assert.NotNil(t, flow, "amount %d is within bounds", amt)
	}
	for _, amt := range []int64{500, 6000} {
		amount := decimal.NewFromInt(amt)
		flow, err := svc.SelectFlow(ctx, repository.DocPurchaseOrder, &amount, nil)
		require.NoError(t, err)
		assert.Nil(t, flow, "amount %d is out of bounds", amt)
	}
}

func TestSelectFlowObjectValuedConditions(t *testing.T) {
	svc := newFlowService(t)
	ctx := context.Background()

	mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:       "Departmental",
		Type:       string(repository.DocPurchaseOrder),
		IsActive:   true,
		Conditions: map[string]any{"dept": map[string]any{"id": float64(5)}},
		Steps:      []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
	})

	flow, err := svc.SelectFlow(ctx, repository.DocPurchaseOrder, nil,
		map[string]any{"dept": map[string]any{"id": float64(5)}})
	require.NoError(t, err)
	assert.NotNil(t, flow)

	flow, err = svc.SelectFlow(ctx, repository.DocPurchaseOrder, nil,
		map[string]any{"dept": map[string]any{"id": float64(6)}})
	require.NoError(t, err)
	assert.Nil(t, flow)
}

func TestSetFlowActiveRevalidatesApprovers(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewFlowService(store.FlowStore(), testLogger())
	ctx := context.Background()

	flow := mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:  "Inactive",
		Type:  string(repository.DocPurchaseOrder),
		Steps: []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
	})

	// Deactivate the only approver behind the service's back.
	flow.Steps[0].Users[0].IsActive = false

	err := svc.SetFlowActive(ctx, flow.ID, true)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	flow.Steps[0].Users[0].IsActive = true
	require.NoError(t, svc.SetFlowActive(ctx, flow.ID, true))

	got, err := svc.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestSoftDeletedFlowStopsMatching(t *testing.T) {
	svc := newFlowService(t)
	ctx := context.Background()

	flow := mustCreateFlow(t, svc, &CreateFlowRequest{
		Name:     "Short lived",
		Type:     string(repository.DocPurchaseOrder),
		IsActive: true,
		Steps:    []CreateStepRequest{stepReq(1, repository.PolicySingle, 1)},
	})

	require.NoError(t, svc.DeleteFlow(ctx, flow.ID))

	got, err := svc.SelectFlow(ctx, repository.DocPurchaseOrder, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
