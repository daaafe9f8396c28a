package repository

import (
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for the approval workflow ───────────────────────────────────

// DocumentType is the closed set of business document kinds an approval flow
// can govern. Boundary layers must parse incoming strings through
// ParseDocumentType rather than casting.
type DocumentType string

const (
	DocPurchaseOrder       DocumentType = "purchase_order"
	DocSaleOrder           DocumentType = "sale_order"
	DocInventoryAdjustment DocumentType = "inventory_adjustment"
	DocExpenseClaim        DocumentType = "expense_claim"
	DocCustom              DocumentType = "custom"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	switch t {
	case DocPurchaseOrder, DocSaleOrder, DocInventoryAdjustment, DocExpenseClaim, DocCustom:
		return true
	}
	return false
}

// ParseDocumentType validates a raw string as a DocumentType.
func ParseDocumentType(s string) (DocumentType, bool) {
	t := DocumentType(s)
	return t, t.Valid()
}

// StepPolicy decides when a step's recorded approvals are sufficient.
type StepPolicy string

const (
	PolicySingle     StepPolicy = "single"     // any one approver
	PolicyAll        StepPolicy = "all"        // every active approver
	PolicyMajority   StepPolicy = "majority"   // strictly more than half
	PolicySequential StepPolicy = "sequential" // in user_order, no gaps
)

// Valid reports whether p is a known policy.
func (p StepPolicy) Valid() bool {
	switch p {
	case PolicySingle, PolicyAll, PolicyMajority, PolicySequential:
		return true
	}
	return false
}

// InstanceStatus is the lifecycle state of an approval instance.
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "pending"
	StatusInProgress InstanceStatus = "in_progress"
	StatusApproved   InstanceStatus = "approved"
	StatusRejected   InstanceStatus = "rejected"
	StatusCancelled  InstanceStatus = "cancelled"
	StatusTimeout    InstanceStatus = "timeout"
)

// Terminal reports whether no further transition is permitted out of s.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// RecordAction is one kind of approver action.
type RecordAction string

const (
	ActionApprove  RecordAction = "approve"
	ActionReject   RecordAction = "reject"
	ActionDelegate RecordAction = "delegate"
	ActionWithdraw RecordAction = "withdraw"
	ActionTimeout  RecordAction = "timeout"
)

// Valid reports whether a is a known action.
func (a RecordAction) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionDelegate, ActionWithdraw, ActionTimeout:
		return true
	}
	return false
}

// ApprovalFlow is a named, typed approval template. Flows are long-lived
// configuration shared by many instances.
type ApprovalFlow struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Type        DocumentType     `json:"type"`
	Description *string          `json:"description,omitempty"`
	IsActive    bool             `json:"is_active"`
	MinAmount   *decimal.Decimal `json:"min_amount,omitempty"` // nil = no lower bound
	MaxAmount   *decimal.Decimal `json:"max_amount,omitempty"` // nil = no upper bound
	Conditions  map[string]any   `json:"conditions,omitempty"` // all keys must match the document data
	Priority    int              `json:"priority"`             // lower = evaluated first
	Steps       []*ApprovalStep  `json:"steps,omitempty"`      // ordered by StepOrder
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IsAmountInRange checks amount against the flow's optional bounds, inclusive
// on whichever bound is set.
func (f *ApprovalFlow) IsAmountInRange(amount decimal.Decimal) bool {
	if f.MinAmount != nil && amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}

// MatchesConditions reports whether every flow condition key is present in
// data with an exactly-equal value. A flow with no conditions always matches.
func (f *ApprovalFlow) MatchesConditions(data map[string]any) bool {
	return conditionsMatch(f.Conditions, data)
}

// StepAt returns the step with the given 1-based order, or nil.
func (f *ApprovalFlow) StepAt(order int) *ApprovalStep {
	for _, s := range f.Steps {
		if s.StepOrder == order {
			return s
		}
	}
	return nil
}

// MaxStepOrder returns the highest step order in the flow.
func (f *ApprovalFlow) MaxStepOrder() int {
	max := 0
	for _, s := range f.Steps {
		if s.StepOrder > max {
			max = s.StepOrder
		}
	}
	return max
}

// ApprovalStep is one stage of a flow, governed by a quorum policy and a set
// of eligible approvers.
type ApprovalStep struct {
	ID           int64               `json:"id"`
	FlowID       int64               `json:"flow_id"`
	Name         string              `json:"name"`
	Description  *string             `json:"description,omitempty"`
	StepOrder    int                 `json:"step_order"` // 1-based, unique within the flow
	Policy       StepPolicy          `json:"policy"`
	IsOptional   bool                `json:"is_optional"`
	TimeoutHours *int                `json:"timeout_hours,omitempty"` // recorded only; no scheduler enforces it
	Conditions   map[string]any      `json:"conditions,omitempty"`    // same semantics as flow-level conditions
	Users        []*ApprovalStepUser `json:"users,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// ActiveUsers returns the step's active approvers.
func (s *ApprovalStep) ActiveUsers() []*ApprovalStepUser {
	var out []*ApprovalStepUser
	for _, u := range s.Users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	return out
}

// HasActiveUser reports whether userID is an active approver on this step.
func (s *ApprovalStep) HasActiveUser(userID int64) bool {
	for _, u := range s.Users {
		if u.UserID == userID && u.IsActive {
			return true
		}
	}
	return false
}

// MatchesConditions mirrors the flow-level condition check for step-scoped
// conditions.
func (s *ApprovalStep) MatchesConditions(data map[string]any) bool {
	return conditionsMatch(s.Conditions, data)
}

// ApprovalStepUser joins a step to one eligible approver.
type ApprovalStepUser struct {
	ID        int64 `json:"id"`
	StepID    int64 `json:"step_id"`
	UserID    int64 `json:"user_id"`
	UserOrder int   `json:"user_order"` // consulted only by the sequential policy
	IsActive  bool  `json:"is_active"`
}

// ApprovalInstance is one running or completed approval process bound to a
// single business document. The flow reference is fixed at creation.
type ApprovalInstance struct {
	ID               int64             `json:"id"`
	FlowID           int64             `json:"flow_id"`
	Flow             *ApprovalFlow     `json:"flow,omitempty"`
	DocumentType     DocumentType      `json:"document_type"`
	DocumentID       int64             `json:"document_id"`
	DocumentNumber   *string           `json:"document_number,omitempty"`
	Title            *string           `json:"title,omitempty"`
	Description      *string           `json:"description,omitempty"`
	Status           InstanceStatus    `json:"status"`
	CurrentStepOrder int               `json:"current_step_order"` // 1-based; never decreases while non-terminal
	SubmittedByID    int64             `json:"submitted_by_id"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Amount           *decimal.Decimal  `json:"amount,omitempty"`
	DocumentData     map[string]any    `json:"document_data,omitempty"`
	Notes            *string           `json:"notes,omitempty"`
	Records          []*ApprovalRecord `json:"records,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CurrentStep returns the flow step the instance currently points at, or nil.
func (i *ApprovalInstance) CurrentStep() *ApprovalStep {
	if i.Flow == nil {
		return nil
	}
	return i.Flow.StepAt(i.CurrentStepOrder)
}

// HasRecord reports whether approverID already acted on stepID of this
// instance, in any way.
func (i *ApprovalInstance) HasRecord(stepID, approverID int64) bool {
	for _, r := range i.Records {
		if r.StepID == stepID && r.ApproverID == approverID {
			return true
		}
	}
	return false
}

// ApproveRecordsForStep returns the approve-action records for stepID.
func (i *ApprovalInstance) ApproveRecordsForStep(stepID int64) []*ApprovalRecord {
	var out []*ApprovalRecord
	for _, r := range i.Records {
		if r.StepID == stepID && r.Action == ActionApprove {
			out = append(out, r)
		}
	}
	return out
}

// ApprovalRecord is one immutable action by one approver against one step of
// one instance.
type ApprovalRecord struct {
	ID           int64        `json:"id"`
	InstanceID   int64        `json:"instance_id"`
	StepID       int64        `json:"step_id"`
	StepOrder    int          `json:"step_order"`
	ApproverID   int64        `json:"approver_id"`
	Action       RecordAction `json:"action"`
	Comments     *string      `json:"comments,omitempty"`
	Reason       *string      `json:"reason,omitempty"`
	DelegateToID *int64       `json:"delegate_to_id,omitempty"` // recorded; eligibility is not reassigned
	Attachments  []string     `json:"attachments,omitempty"`
	ActionAt     time.Time    `json:"action_at"`
}

func conditionsMatch(conditions, data map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}
	for key, want := range conditions {
		got, ok := data[key]
		// Values come from JSON decoding, so they can be maps or slices;
		// those are not ==-comparable.
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
