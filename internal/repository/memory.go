package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artisanerp/be-approvals/internal/errors"
)

// MemoryStore is an in-memory implementation of the flow, instance and
// record store contracts, exposed through the FlowStore, InstanceStore and
// RecordStore views. It backs the engine's tests and local development
// without a PostgreSQL instance. A single mutex stands in for the row lock
// the SQL store takes per instance.
type MemoryStore struct {
	mu        sync.Mutex
	flows     map[int64]*ApprovalFlow
	instances map[int64]*ApprovalInstance
	records   map[int64][]*ApprovalRecord // keyed by instance ID
	nextID    int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:     make(map[int64]*ApprovalFlow),
		instances: make(map[int64]*ApprovalInstance),
		records:   make(map[int64][]*ApprovalRecord),
	}
}

// FlowStore returns the flow view of the store.
func (s *MemoryStore) FlowStore() *MemoryFlowStore { return &MemoryFlowStore{s: s} }

// InstanceStore returns the instance view of the store.
func (s *MemoryStore) InstanceStore() *MemoryInstanceStore { return &MemoryInstanceStore{s: s} }

// RecordStore returns the record view of the store.
func (s *MemoryStore) RecordStore() *MemoryRecordStore { return &MemoryRecordStore{s: s} }

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// ── flow view ────────────────────────────────────────────────────────────────

// MemoryFlowStore implements the flow store contract.
type MemoryFlowStore struct {
	s *MemoryStore
}

// Create stores a flow with its steps and users, assigning identifiers.
func (f *MemoryFlowStore) Create(ctx context.Context, flow *ApprovalFlow) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	now := time.Now()
	flow.ID = f.s.id()
	flow.CreatedAt = now
	flow.UpdatedAt = now
	for _, step := range flow.Steps {
		step.ID = f.s.id()
		step.FlowID = flow.ID
		step.CreatedAt = now
		step.UpdatedAt = now
		for _, u := range step.Users {
			u.ID = f.s.id()
			u.StepID = step.ID
		}
	}
	f.s.flows[flow.ID] = flow
	return nil
}

// GetByID returns a flow by identifier.
func (f *MemoryFlowStore) GetByID(ctx context.Context, id int64) (*ApprovalFlow, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	flow, ok := f.s.flows[id]
	if !ok {
		return nil, errors.NotFound("approval_flow", id)
	}
	return flow, nil
}

// List returns flows in selection order.
func (f *MemoryFlowStore) List(ctx context.Context, activeOnly bool) ([]*ApprovalFlow, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var flows []*ApprovalFlow
	for _, fl := range f.s.flows {
		if activeOnly && !fl.IsActive {
			continue
		}
		flows = append(flows, fl)
	}
	sortFlows(flows)
	return flows, nil
}

// ListActiveByType returns active flows of a type in selection order.
func (f *MemoryFlowStore) ListActiveByType(ctx context.Context, docType DocumentType) ([]*ApprovalFlow, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var flows []*ApprovalFlow
	for _, fl := range f.s.flows {
		if fl.IsActive && fl.Type == docType {
			flows = append(flows, fl)
		}
	}
	sortFlows(flows)
	return flows, nil
}

// SetActive toggles a flow's active flag.
func (f *MemoryFlowStore) SetActive(ctx context.Context, id int64, active bool) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	flow, ok := f.s.flows[id]
	if !ok {
		return errors.NotFound("approval_flow", id)
	}
	flow.IsActive = active
	flow.UpdatedAt = time.Now()
	return nil
}

// SoftDelete removes a flow from matching without touching instances.
func (f *MemoryFlowStore) SoftDelete(ctx context.Context, id int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if _, ok := f.s.flows[id]; !ok {
		return errors.NotFound("approval_flow", id)
	}
	delete(f.s.flows, id)
	return nil
}

// ── instance view ────────────────────────────────────────────────────────────

// MemoryInstanceStore implements the instance store contract.
type MemoryInstanceStore struct {
	s *MemoryStore
}

// Create stores a new instance.
func (i *MemoryInstanceStore) Create(ctx context.Context, inst *ApprovalInstance) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	now := time.Now()
	inst.ID = i.s.id()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.Flow == nil {
		inst.Flow = i.s.flows[inst.FlowID]
	}
	i.s.instances[inst.ID] = inst
	return nil
}

// Activate transitions a pending instance to in_progress.
func (i *MemoryInstanceStore) Activate(ctx context.Context, id int64) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	inst, ok := i.s.instances[id]
	if !ok {
		return errors.NotFound("approval_instance", id)
	}
	if inst.Status == StatusPending {
		inst.Status = StatusInProgress
		inst.UpdatedAt = time.Now()
	}
	return nil
}

// GetByID returns an instance hydrated with flow and records.
func (i *MemoryInstanceStore) GetByID(ctx context.Context, id int64) (*ApprovalInstance, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.s.getLocked(id)
}

func (s *MemoryStore) getLocked(id int64) (*ApprovalInstance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return nil, errors.NotFound("approval_instance", id)
	}
	inst.Records = s.sortedRecords(id)
	if inst.Flow == nil {
		inst.Flow = s.flows[inst.FlowID]
	}
	return inst, nil
}

// ListPendingForUser filters non-terminal instances whose current step lists
// the user as an active approver, newest-submitted first.
func (i *MemoryInstanceStore) ListPendingForUser(ctx context.Context, userID int64, q PendingQuery) ([]*ApprovalInstance, int, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	var matched []*ApprovalInstance
	for _, inst := range i.s.instances {
		if inst.Status.Terminal() {
			continue
		}
		if q.DocumentType != nil && inst.DocumentType != *q.DocumentType {
			continue
		}
		step := inst.CurrentStep()
		if step == nil || !step.HasActiveUser(userID) {
			continue
		}
		inst.Records = i.s.sortedRecords(inst.ID)
		matched = append(matched, inst)
	}

	sort.Slice(matched, func(a, b int) bool {
		return matched[a].SubmittedAt.After(matched[b].SubmittedAt)
	})

	total := len(matched)
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 10
	}
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// WithInstance runs fn under the store mutex, mirroring the SQL store's
// per-instance row lock.
func (i *MemoryInstanceStore) WithInstance(ctx context.Context, id int64, fn func(ctx context.Context, m Mutation) error) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	inst, err := i.s.getLocked(id)
	if err != nil {
		return err
	}
	return fn(ctx, &memoryMutation{store: i.s, inst: inst})
}

type memoryMutation struct {
	store *MemoryStore
	inst  *ApprovalInstance
}

func (m *memoryMutation) Instance() *ApprovalInstance { return m.inst }

func (m *memoryMutation) AppendRecord(ctx context.Context, rec *ApprovalRecord) error {
	for _, existing := range m.store.records[rec.InstanceID] {
		if existing.StepID == rec.StepID && existing.ApproverID == rec.ApproverID {
			return errors.New(errors.ErrCodeAlreadyActed, "user already acted on this step")
		}
	}
	rec.ID = m.store.id()
	m.store.records[rec.InstanceID] = append(m.store.records[rec.InstanceID], rec)
	return nil
}

func (m *memoryMutation) Update(ctx context.Context, inst *ApprovalInstance) error {
	stored, ok := m.store.instances[inst.ID]
	if !ok {
		return errors.NotFound("approval_instance", inst.ID)
	}
	stored.Status = inst.Status
	stored.CurrentStepOrder = inst.CurrentStepOrder
	stored.CompletedAt = inst.CompletedAt
	stored.Notes = inst.Notes
	stored.UpdatedAt = time.Now()
	return nil
}

// ── record view ──────────────────────────────────────────────────────────────

// MemoryRecordStore implements the record store contract.
type MemoryRecordStore struct {
	s *MemoryStore
}

// ListByInstance returns an instance's records ordered by action time.
func (r *MemoryRecordStore) ListByInstance(ctx context.Context, instanceID int64) ([]*ApprovalRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedRecords(instanceID), nil
}

func (s *MemoryStore) sortedRecords(instanceID int64) []*ApprovalRecord {
	records := append([]*ApprovalRecord(nil), s.records[instanceID]...)
	sort.Slice(records, func(i, j int) bool {
		if records[i].ActionAt.Equal(records[j].ActionAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].ActionAt.Before(records[j].ActionAt)
	})
	return records
}

func sortFlows(flows []*ApprovalFlow) {
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Priority != flows[j].Priority {
			return flows[i].Priority < flows[j].Priority
		}
		return flows[i].ID < flows[j].ID
	})
}
