package service

import (
	"context"

	"github.com/artisanerp/be-approvals/internal/repository"
)

// FlowStore is the persistence contract for approval flow configuration.
// Implemented by repository.FlowRepository and repository.MemoryFlowStore.
type FlowStore interface {
	Create(ctx context.Context, flow *repository.ApprovalFlow) error
	GetByID(ctx context.Context, id int64) (*repository.ApprovalFlow, error)
	List(ctx context.Context, activeOnly bool) ([]*repository.ApprovalFlow, error)
	ListActiveByType(ctx context.Context, docType repository.DocumentType) ([]*repository.ApprovalFlow, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SoftDelete(ctx context.Context, id int64) error
}

// InstanceStore is the persistence contract for approval instances.
// WithInstance must load the instance under a lock that serializes
// concurrent callbacks for the same instance, and commit writes made
// through the Mutation atomically.
type InstanceStore interface {
	Create(ctx context.Context, inst *repository.ApprovalInstance) error
	Activate(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*repository.ApprovalInstance, error)
	ListPendingForUser(ctx context.Context, userID int64, q repository.PendingQuery) ([]*repository.ApprovalInstance, int, error)
	WithInstance(ctx context.Context, id int64, fn func(ctx context.Context, m repository.Mutation) error) error
}

// RecordStore reads the immutable approval record history.
type RecordStore interface {
	ListByInstance(ctx context.Context, instanceID int64) ([]*repository.ApprovalRecord, error)
}
