package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/artisanerp/be-approvals/internal/errors"
	"github.com/artisanerp/be-approvals/internal/logger"
	"github.com/artisanerp/be-approvals/internal/repository"
)

// FlowService manages approval flow configuration and selects the flow that
// governs a document submission.
type FlowService struct {
	flows    FlowStore
	validate *validator.Validate
	log      *logger.Logger
}

// NewFlowService creates a new FlowService.
func NewFlowService(flows FlowStore, log *logger.Logger) *FlowService {
	return &FlowService{
		flows:    flows,
		validate: validator.New(),
		log:      log,
	}
}

// CreateFlowRequest describes a new approval flow with its steps.
type CreateFlowRequest struct {
	Name        string              `json:"name" validate:"required,max=100"`
	Type        string              `json:"type" validate:"required"`
	Description *string             `json:"description,omitempty"`
	IsActive    bool                `json:"is_active"`
	MinAmount   *decimal.Decimal    `json:"min_amount,omitempty"`
	MaxAmount   *decimal.Decimal    `json:"max_amount,omitempty"`
	Conditions  map[string]any      `json:"conditions,omitempty"`
	Priority    int                 `json:"priority"`
	Steps       []CreateStepRequest `json:"steps" validate:"required,min=1,dive"`
}

// CreateStepRequest describes one step of a new flow.
type CreateStepRequest struct {
	Name         string                  `json:"name" validate:"required,max=100"`
	Description  *string                 `json:"description,omitempty"`
	StepOrder    int                     `json:"step_order" validate:"required,min=1"`
	Policy       string                  `json:"policy" validate:"required"`
	IsOptional   bool                    `json:"is_optional"`
	TimeoutHours *int                    `json:"timeout_hours,omitempty"`
	Conditions   map[string]any          `json:"conditions,omitempty"`
	Users        []CreateStepUserRequest `json:"users" validate:"required,min=1,dive"`
}

// CreateStepUserRequest names one eligible approver on a step.
type CreateStepUserRequest struct {
	UserID    int64 `json:"user_id" validate:"required"`
	UserOrder int   `json:"user_order"`
	IsActive  bool  `json:"is_active"`
}

// CreateFlow validates and persists a flow with its steps and approvers.
func (s *FlowService) CreateFlow(ctx context.Context, req *CreateFlowRequest) (*repository.ApprovalFlow, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid flow definition")
	}

	docType, ok := repository.ParseDocumentType(req.Type)
	if !ok {
		return nil, errors.InvalidInput("type", "unknown document type")
	}
	if req.MinAmount != nil && req.MaxAmount != nil && req.MinAmount.GreaterThan(*req.MaxAmount) {
		return nil, errors.InvalidInput("min_amount", "must not exceed max_amount")
	}

	flow := &repository.ApprovalFlow{
		Name:        req.Name,
		Type:        docType,
		Description: req.Description,
		IsActive:    req.IsActive,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
		Conditions:  req.Conditions,
		Priority:    req.Priority,
	}

	seenOrders := make(map[int]bool, len(req.Steps))
	for _, sr := range req.Steps {
		policy := repository.StepPolicy(sr.Policy)
		if !policy.Valid() {
			return nil, errors.InvalidInput("policy", "unknown step policy")
		}
		if seenOrders[sr.StepOrder] {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "duplicate step order %d", sr.StepOrder)
		}
		seenOrders[sr.StepOrder] = true

		step := &repository.ApprovalStep{
			Name:         sr.Name,
			Description:  sr.Description,
			StepOrder:    sr.StepOrder,
			Policy:       policy,
			IsOptional:   sr.IsOptional,
			TimeoutHours: sr.TimeoutHours,
			Conditions:   sr.Conditions,
		}
		for _, ur := range sr.Users {
			step.Users = append(step.Users, &repository.ApprovalStepUser{
				UserID:    ur.UserID,
				UserOrder: ur.UserOrder,
				IsActive:  ur.IsActive,
			})
		}
		flow.Steps = append(flow.Steps, step)
	}

	// Step orders must form a contiguous 1..N sequence so the current-step
	// pointer always resolves.
	for order := 1; order <= len(req.Steps); order++ {
		if !seenOrders[order] {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "step orders must be contiguous from 1; missing %d", order)
		}
	}

	if err := validateStepApprovers(flow); err != nil {
		return nil, err
	}

	if err := s.flows.Create(ctx, flow); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("flow_id", flow.ID).
		Str("type", string(flow.Type)).
		Int("steps", len(flow.Steps)).
		Bool("active", flow.IsActive).
		Msg("Approval flow created")

	return flow, nil
}

// GetFlow returns a flow with its steps and approvers.
func (s *FlowService) GetFlow(ctx context.Context, id int64) (*repository.ApprovalFlow, error) {
	return s.flows.GetByID(ctx, id)
}

// ListFlows returns all flows, optionally active only.
func (s *FlowService) ListFlows(ctx context.Context, activeOnly bool) ([]*repository.ApprovalFlow, error) {
	return s.flows.List(ctx, activeOnly)
}

// SetFlowActive activates or deactivates a flow. Activation re-checks that
// every step still has at least one active approver.
func (s *FlowService) SetFlowActive(ctx context.Context, id int64, active bool) error {
	if active {
		flow, err := s.flows.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := validateStepApprovers(flow); err != nil {
			return err
		}
	}
	return s.flows.SetActive(ctx, id, active)
}

// DeleteFlow soft-deletes a flow. Existing instances keep their flow
// reference; the flow stops matching new submissions.
func (s *FlowService) DeleteFlow(ctx context.Context, id int64) error {
	return s.flows.SoftDelete(ctx, id)
}

// SelectFlow finds the flow governing a submission: the first active flow of
// the document type, in priority order, whose amount range and conditions
// both match. Returns nil when nothing matches; the caller decides whether
// that blocks the submission.
func (s *FlowService) SelectFlow(
	ctx context.Context,
	docType repository.DocumentType,
	amount *decimal.Decimal,
	conditionData map[string]any,
) (*repository.ApprovalFlow, error) {
	flows, err := s.flows.ListActiveByType(ctx, docType)
	if err != nil {
		return nil, err
	}

	for _, flow := range flows {
		if amount != nil && !flow.IsAmountInRange(*amount) {
			continue
		}
		if !flow.MatchesConditions(conditionData) {
			continue
		}
		return flow, nil
	}
	return nil, nil
}

// validateStepApprovers rejects flows with a step that no active user can
// approve. Such a step would stall every instance that reaches it (and would
// trivially satisfy the "all" policy).
func validateStepApprovers(flow *repository.ApprovalFlow) error {
	for _, step := range flow.Steps {
		if len(step.ActiveUsers()) == 0 {
			return errors.Newf(errors.ErrCodeInvalidInput,
				"step %d has no active approvers", step.StepOrder)
		}
	}
	return nil
}
