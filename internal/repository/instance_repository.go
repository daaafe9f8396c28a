package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/artisanerp/be-approvals/internal/database"
	"github.com/artisanerp/be-approvals/internal/errors"
)

// InstanceRepository manages approval instances. Mutations that depend on the
// instance's current state go through WithInstance, which holds a row lock
// for the duration of the callback so concurrent actions on the same
// instance serialize.
type InstanceRepository struct {
	db *database.DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *database.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Create inserts a new instance. Status and current step are taken from the
// struct; the caller sets them per the submission lifecycle.
func (r *InstanceRepository) Create(ctx context.Context, inst *ApprovalInstance) error {
	dataJSON, err := marshalConditions(inst.DocumentData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_instances
		    (flow_id, document_type, document_id, document_number,
		     title, description, status, current_step_order,
		     submitted_by_id, submitted_at, amount, document_data, notes)
		VALUES ($1, $2::approval_flow_type, $3, $4,
		        $5, $6, $7::approval_status, $8,
		        $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		inst.FlowID,
		inst.DocumentType,
		inst.DocumentID,
		inst.DocumentNumber,
		inst.Title,
		inst.Description,
		inst.Status,
		inst.CurrentStepOrder,
		inst.SubmittedByID,
		inst.SubmittedAt,
		inst.Amount,
		dataJSON,
		inst.Notes,
	).Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval instance")
	}
	return nil
}

// Activate transitions a pending instance to in_progress.
func (r *InstanceRepository) Activate(ctx context.Context, id int64) error {
	query := `
		UPDATE approval_instances
		SET status     = 'in_progress'::approval_status,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'::approval_status
		RETURNING id
	`

	var returnedID int64
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_instance", id)
	}
	return err
}

// GetByID retrieves an instance hydrated with its flow (steps, users) and
// full record history.
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*ApprovalInstance, error) {
	return fetchInstance(ctx, r.db, id, false)
}

// PendingQuery filters and paginates the pending-approvals listing.
type PendingQuery struct {
	DocumentType *DocumentType
	Page         int
	Limit        int
}

// ListPendingForUser returns non-terminal instances whose current step lists
// userID as an active approver, newest-submitted first, with the total count.
func (r *InstanceRepository) ListPendingForUser(ctx context.Context, userID int64, q PendingQuery) ([]*ApprovalInstance, int, error) {
	where := `
		FROM approval_instances i
		JOIN approval_steps s
		  ON s.flow_id = i.flow_id
		 AND s.step_order = i.current_step_order
		 AND s.deleted_at IS NULL
		JOIN approval_step_users u
		  ON u.step_id = s.id
		 AND u.user_id = $1
		 AND u.is_active = TRUE
		WHERE i.status IN ('pending'::approval_status, 'in_progress'::approval_status)
	`
	args := []any{userID}

	if q.DocumentType != nil {
		where += ` AND i.document_type = $2::approval_flow_type`
		args = append(args, *q.DocumentType)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending approvals")
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 10
	}

	listQuery := instanceSelectColumns + where + `
		ORDER BY i.submitted_at DESC
		LIMIT ` + arg(len(args)+1) + ` OFFSET ` + arg(len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var instances []*ApprovalInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval instance")
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read pending approvals")
	}

	for _, inst := range instances {
		if err := hydrateInstance(ctx, r.db, inst); err != nil {
			return nil, 0, err
		}
	}
	return instances, total, nil
}

// Mutation is the transactional view handed to WithInstance callbacks. The
// instance it exposes was loaded under the store's instance lock; writes made
// through it commit atomically with that lock held.
type Mutation interface {
	Instance() *ApprovalInstance
	AppendRecord(ctx context.Context, rec *ApprovalRecord) error
	Update(ctx context.Context, inst *ApprovalInstance) error
}

type instanceMutation struct {
	tx   pgx.Tx
	inst *ApprovalInstance
}

// Instance returns the locked, fully hydrated instance snapshot.
func (m *instanceMutation) Instance() *ApprovalInstance { return m.inst }

// AppendRecord inserts an immutable approval record within the transaction.
func (m *instanceMutation) AppendRecord(ctx context.Context, rec *ApprovalRecord) error {
	return insertRecord(ctx, m.tx, rec)
}

// Update persists the instance's status, current step, completion timestamp
// and notes within the transaction.
func (m *instanceMutation) Update(ctx context.Context, inst *ApprovalInstance) error {
	query := `
		UPDATE approval_instances
		SET status             = $2::approval_status,
		    current_step_order = $3,
		    completed_at       = $4,
		    notes              = $5,
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := m.tx.QueryRow(ctx, query,
		inst.ID,
		inst.Status,
		inst.CurrentStepOrder,
		inst.CompletedAt,
		inst.Notes,
	).Scan(&inst.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_instance", inst.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval instance")
	}
	return nil
}

// WithInstance loads the instance under SELECT ... FOR UPDATE inside a
// transaction and runs fn against it. Record inserts and instance updates
// made through the mutation commit atomically with the lock released at
// commit or rollback.
func (r *InstanceRepository) WithInstance(ctx context.Context, id int64, fn func(ctx context.Context, m Mutation) error) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		inst, err := fetchInstance(ctx, tx, id, true)
		if err != nil {
			return err
		}
		return fn(ctx, &instanceMutation{tx: tx, inst: inst})
	})
}

// ── fetch and scan helpers ───────────────────────────────────────────────────

const instanceSelectColumns = `
	SELECT i.id, i.flow_id, i.document_type, i.document_id, i.document_number,
	       i.title, i.description, i.status, i.current_step_order,
	       i.submitted_by_id, i.submitted_at, i.completed_at,
	       i.amount, i.document_data, i.notes,
	       i.created_at, i.updated_at`

func fetchInstance(ctx context.Context, q queryer, id int64, forUpdate bool) (*ApprovalInstance, error) {
	query := instanceSelectColumns + `
		FROM approval_instances i
		WHERE i.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	inst, err := scanInstance(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_instance", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval instance")
	}

	if err := hydrateInstance(ctx, q, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// hydrateInstance attaches the flow (with steps and users) and records.
func hydrateInstance(ctx context.Context, q queryer, inst *ApprovalInstance) error {
	flowQuery := flowSelect + ` WHERE id = $1`
	flow, err := scanFlow(q.QueryRow(ctx, flowQuery, inst.FlowID))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load instance flow")
	}
	if err := loadFlowSteps(ctx, q, flow); err != nil {
		return err
	}
	inst.Flow = flow

	records, err := listRecords(ctx, q, inst.ID)
	if err != nil {
		return err
	}
	inst.Records = records
	return nil
}

type instanceScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row instanceScanner) (*ApprovalInstance, error) {
	inst := &ApprovalInstance{}
	var dataJSON []byte

	err := row.Scan(
		&inst.ID,
		&inst.FlowID,
		&inst.DocumentType,
		&inst.DocumentID,
		&inst.DocumentNumber,
		&inst.Title,
		&inst.Description,
		&inst.Status,
		&inst.CurrentStepOrder,
		&inst.SubmittedByID,
		&inst.SubmittedAt,
		&inst.CompletedAt,
		&inst.Amount,
		&dataJSON,
		&inst.Notes,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inst.DocumentData, err = unmarshalConditions(dataJSON); err != nil {
		return nil, err
	}
	return inst, nil
}

// arg renders a positional SQL placeholder like $3.
func arg(n int) string {
	return fmt.Sprintf("$%d", n)
}
