package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artisanerp/be-approvals/internal/client"
	"github.com/artisanerp/be-approvals/internal/errors"
	"github.com/artisanerp/be-approvals/internal/logger"
	"github.com/artisanerp/be-approvals/internal/repository"
)

// ApprovalService runs the approval state machine: document submission, step
// progression under each step's quorum policy, and terminal transitions.
type ApprovalService struct {
	flows     *FlowService
	instances InstanceStore
	records   RecordStore
	notifier  *client.NotificationPublisher
	log       *logger.Logger
}

// NewApprovalService creates a new ApprovalService. notifier may be nil.
func NewApprovalService(
	flows *FlowService,
	instances InstanceStore,
	records RecordStore,
	notifier *client.NotificationPublisher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		flows:     flows,
		instances: instances,
		records:   records,
		notifier:  notifier,
		log:       log,
	}
}

// SubmitRequest describes a document entering the approval process.
type SubmitRequest struct {
	DocumentType   string           `json:"document_type"`
	DocumentID     int64            `json:"document_id"`
	DocumentNumber *string          `json:"document_number,omitempty"`
	Title          *string          `json:"title,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	DocumentData   map[string]any   `json:"document_data,omitempty"`
	SubmittedByID  int64            `json:"submitted_by_id"`
}

// Submit selects the governing flow for the document and starts an approval
// instance at its first step. Fails with no_matching_flow when no active flow
// covers the document.
func (s *ApprovalService) Submit(ctx context.Context, req *SubmitRequest) (*repository.ApprovalInstance, error) {
	docType, ok := repository.ParseDocumentType(req.DocumentType)
	if !ok {
		return nil, errors.InvalidInput("document_type", "unknown document type")
	}
	if req.DocumentID == 0 {
		return nil, errors.InvalidInput("document_id", "is required")
	}
	if req.SubmittedByID == 0 {
		return nil, errors.InvalidInput("submitted_by_id", "is required")
	}

	flow, err := s.flows.SelectFlow(ctx, docType, req.Amount, req.DocumentData)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return nil, errors.Newf(errors.ErrCodeNoMatchingFlow,
			"no active approval flow matches document type %s", docType)
	}

	inst := &repository.ApprovalInstance{
		FlowID:           flow.ID,
		DocumentType:     docType,
		DocumentID:       req.DocumentID,
		DocumentNumber:   req.DocumentNumber,
		Title:            req.Title,
		Description:      req.Description,
		Status:           repository.StatusPending,
		CurrentStepOrder: 1,
		SubmittedByID:    req.SubmittedByID,
		SubmittedAt:      time.Now().UTC(),
		Amount:           req.Amount,
		DocumentData:     req.DocumentData,
	}
	if err := s.instances.Create(ctx, inst); err != nil {
		return nil, err
	}

	// Two-phase start: the instance becomes actionable only once activated.
	if err := s.instances.Activate(ctx, inst.ID); err != nil {
		return nil, err
	}

	inst, err = s.instances.GetByID(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("instance_id", inst.ID).
		Int64("flow_id", flow.ID).
		Str("document_type", string(docType)).
		Int64("document_id", req.DocumentID).
		Int64("submitted_by", req.SubmittedByID).
		Msg("Approval instance submitted")

	s.notifier.PublishApprovalEvent("approval_submitted", inst.ID, req.SubmittedByID,
		[]int64{req.SubmittedByID}, s.eventPayload(inst))
	s.notifyCurrentApprovers(inst, req.SubmittedByID)

	return inst, nil
}

// ActRequest describes one approver action on an instance.
type ActRequest struct {
	InstanceID   int64    `json:"instance_id"`
	ApproverID   int64    `json:"approver_id"`
	Action       string   `json:"action"`
	Comments     *string  `json:"comments,omitempty"`
	Reason       *string  `json:"reason,omitempty"`
	DelegateToID *int64   `json:"delegate_to_id,omitempty"`
	Attachments  []string `json:"attachments,omitempty"`
}

// Act records an approver's action and advances the state machine. The whole
// decision runs under the instance lock so concurrent actions on the same
// instance serialize and each sees the previous one's records.
func (s *ApprovalService) Act(ctx context.Context, req *ActRequest) (*repository.ApprovalInstance, error) {
	action := repository.RecordAction(req.Action)
	if !action.Valid() {
		return nil, errors.InvalidInput("action", "unknown action")
	}
	if req.ApproverID == 0 {
		return nil, errors.InvalidInput("approver_id", "is required")
	}
	if action == repository.ActionDelegate && req.DelegateToID == nil {
		return nil, errors.InvalidInput("delegate_to_id", "is required for delegate")
	}

	err := s.instances.WithInstance(ctx, req.InstanceID, func(ctx context.Context, m repository.Mutation) error {
		inst := m.Instance()

		if inst.Status.Terminal() {
			return errors.Newf(errors.ErrCodeAlreadyCompleted,
				"approval instance %d is already %s", inst.ID, inst.Status)
		}
		if inst.Status != repository.StatusInProgress {
			return errors.Newf(errors.ErrCodeInvalidState,
				"approval instance %d is %s, not in progress", inst.ID, inst.Status)
		}

		step := inst.CurrentStep()
		if step == nil {
			return errors.Newf(errors.ErrCodeInternal,
				"approval instance %d points at missing step %d", inst.ID, inst.CurrentStepOrder)
		}
		if !step.HasActiveUser(req.ApproverID) {
			return errors.Newf(errors.ErrCodeNotAuthorized,
				"user %d is not an approver on the current step", req.ApproverID)
		}
		if inst.HasRecord(step.ID, req.ApproverID) {
			return errors.Newf(errors.ErrCodeAlreadyActed,
				"user %d already acted on this step", req.ApproverID)
		}

		rec := &repository.ApprovalRecord{
			InstanceID:   inst.ID,
			StepID:       step.ID,
			StepOrder:    step.StepOrder,
			ApproverID:   req.ApproverID,
			Action:       action,
			Comments:     req.Comments,
			Reason:       req.Reason,
			DelegateToID: req.DelegateToID,
			Attachments:  req.Attachments,
			ActionAt:     time.Now().UTC(),
		}
		if err := m.AppendRecord(ctx, rec); err != nil {
			return err
		}
		inst.Records = append(inst.Records, rec)

		switch action {
		case repository.ActionReject:
			// Any rejection ends the whole instance.
			now := time.Now().UTC()
			inst.Status = repository.StatusRejected
			inst.CompletedAt = &now

		case repository.ActionApprove:
			if !stepSatisfied(step, inst.Records) {
				return m.Update(ctx, inst)
			}
			if inst.CurrentStepOrder >= inst.Flow.MaxStepOrder() {
				now := time.Now().UTC()
				inst.Status = repository.StatusApproved
				inst.CompletedAt = &now
			} else {
				inst.CurrentStepOrder++
			}

		default:
			// delegate, withdraw and timeout are recorded but do not move
			// the state machine.
		}

		return m.Update(ctx, inst)
	})
	if err != nil {
		return nil, err
	}

	inst, err := s.instances.GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("instance_id", inst.ID).
		Int64("approver_id", req.ApproverID).
		Str("action", string(action)).
		Str("status", string(inst.Status)).
		Int("current_step", inst.CurrentStepOrder).
		Msg("Approval action processed")

	s.publishOutcome(inst, req.ApproverID)

	return inst, nil
}

// Cancel withdraws a non-terminal instance. Only the original submitter may
// cancel.
func (s *ApprovalService) Cancel(ctx context.Context, instanceID, userID int64, reason *string) (*repository.ApprovalInstance, error) {
	err := s.instances.WithInstance(ctx, instanceID, func(ctx context.Context, m repository.Mutation) error {
		inst := m.Instance()

		if inst.Status.Terminal() {
			return errors.Newf(errors.ErrCodeAlreadyCompleted,
				"approval instance %d is already %s", inst.ID, inst.Status)
		}
		if inst.SubmittedByID != userID {
			return errors.Newf(errors.ErrCodeForbidden,
				"only the submitter may cancel approval instance %d", inst.ID)
		}

		now := time.Now().UTC()
		inst.Status = repository.StatusCancelled
		inst.CompletedAt = &now
		if reason != nil {
			inst.Notes = reason
		}
		return m.Update(ctx, inst)
	})
	if err != nil {
		return nil, err
	}

	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("instance_id", inst.ID).
		Int64("user_id", userID).
		Msg("Approval instance cancelled")

	s.notifier.PublishApprovalEvent("approval_cancelled", inst.ID, userID,
		[]int64{inst.SubmittedByID}, s.eventPayload(inst))

	return inst, nil
}

// GetInstance returns an instance with its flow and records.
func (s *ApprovalService) GetInstance(ctx context.Context, id int64) (*repository.ApprovalInstance, error) {
	return s.instances.GetByID(ctx, id)
}

// PendingPage is one page of instances awaiting a user's action.
type PendingPage struct {
	Instances []*repository.ApprovalInstance
	Page      int
	Limit     int
	Total     int
	Pages     int
}

// ListPending returns non-terminal instances whose current step lists the
// user as an active approver, newest-submitted first.
func (s *ApprovalService) ListPending(ctx context.Context, userID int64, q repository.PendingQuery) (*PendingPage, error) {
	if userID == 0 {
		return nil, errors.InvalidInput("user_id", "is required")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	instances, total, err := s.instances.ListPendingForUser(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	pages := total / q.Limit
	if total%q.Limit != 0 {
		pages++
	}

	return &PendingPage{
		Instances: instances,
		Page:      q.Page,
		Limit:     q.Limit,
		Total:     total,
		Pages:     pages,
	}, nil
}

// History returns the full action record of an instance, oldest first.
func (s *ApprovalService) History(ctx context.Context, instanceID int64) ([]*repository.ApprovalRecord, error) {
	if _, err := s.instances.GetByID(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.records.ListByInstance(ctx, instanceID)
}

// publishOutcome emits the event matching the instance's post-action state.
func (s *ApprovalService) publishOutcome(inst *repository.ApprovalInstance, actorID int64) {
	switch inst.Status {
	case repository.StatusApproved:
		s.notifier.PublishApprovalEvent("approval_approved", inst.ID, actorID,
			[]int64{inst.SubmittedByID}, s.eventPayload(inst))
	case repository.StatusRejected:
		s.notifier.PublishApprovalEvent("approval_rejected", inst.ID, actorID,
			[]int64{inst.SubmittedByID}, s.eventPayload(inst))
	case repository.StatusInProgress:
		s.notifyCurrentApprovers(inst, actorID)
	}
}

// notifyCurrentApprovers tells the current step's active approvers that the
// instance awaits them.
func (s *ApprovalService) notifyCurrentApprovers(inst *repository.ApprovalInstance, actorID int64) {
	step := inst.CurrentStep()
	if step == nil {
		return
	}
	var recipients []int64
	for _, u := range step.ActiveUsers() {
		if !inst.HasRecord(step.ID, u.UserID) {
			recipients = append(recipients, u.UserID)
		}
	}
	s.notifier.PublishApprovalEvent("approval_required", inst.ID, actorID,
		recipients, s.eventPayload(inst))
}

func (s *ApprovalService) eventPayload(inst *repository.ApprovalInstance) map[string]any {
	payload := map[string]any{
		"document_type": string(inst.DocumentType),
		"document_id":   inst.DocumentID,
		"status":        string(inst.Status),
		"current_step":  inst.CurrentStepOrder,
	}
	if inst.DocumentNumber != nil {
		payload["document_number"] = *inst.DocumentNumber
	}
	if inst.Title != nil {
		payload["title"] = *inst.Title
	}
	if inst.Amount != nil {
		payload["amount"] = inst.Amount.String()
	}
	return payload
}
