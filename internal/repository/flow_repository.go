package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/artisanerp/be-approvals/internal/database"
	"github.com/artisanerp/be-approvals/internal/errors"
)

// FlowRepository handles CRUD for approval flows and their steps and step
// users. A flow's steps are always created together with the flow in one
// transaction.
type FlowRepository struct {
	db *database.DB
}

// NewFlowRepository creates a new FlowRepository.
func NewFlowRepository(db *database.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

// Create inserts a flow with its steps and step users in one transaction.
func (r *FlowRepository) Create(ctx context.Context, flow *ApprovalFlow) error {
	conditionsJSON, err := marshalConditions(flow.Conditions)
	if err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		flowQuery := `
			INSERT INTO approval_flows
			    (name, type, description, is_active,
			     min_amount, max_amount, conditions, priority)
			VALUES ($1, $2::approval_flow_type, $3, $4,
			        $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, flowQuery,
			flow.Name,
			flow.Type,
			flow.Description,
			flow.IsActive,
			flow.MinAmount,
			flow.MaxAmount,
			conditionsJSON,
			flow.Priority,
		).Scan(&flow.ID, &flow.CreatedAt, &flow.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval flow")
		}

		stepQuery := `
			INSERT INTO approval_steps
			    (flow_id, name, description, step_order,
			     policy, is_optional, timeout_hours, conditions)
			VALUES ($1, $2, $3, $4,
			        $5::approval_step_policy, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`
		userQuery := `
			INSERT INTO approval_step_users
			    (step_id, user_id, user_order, is_active)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`

		for _, step := range flow.Steps {
			step.FlowID = flow.ID

			stepConditionsJSON, err := marshalConditions(step.Conditions)
			if err != nil {
				return err
			}

			err = tx.QueryRow(ctx, stepQuery,
				step.FlowID,
				step.Name,
				step.Description,
				step.StepOrder,
				step.Policy,
				step.IsOptional,
				step.TimeoutHours,
				stepConditionsJSON,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
			}

			for _, u := range step.Users {
				u.StepID = step.ID
				if err := tx.QueryRow(ctx, userQuery,
					u.StepID, u.UserID, u.UserOrder, u.IsActive,
				).Scan(&u.ID); err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step user")
				}
			}
		}

		return nil
	})
}

// GetByID retrieves a flow, hydrated with steps and step users.
func (r *FlowRepository) GetByID(ctx context.Context, id int64) (*ApprovalFlow, error) {
	query := flowSelect + ` WHERE id = $1 AND deleted_at IS NULL`

	flow, err := scanFlow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_flow", id)
	}
	if err != nil {
		return nil, err
	}

	if err := loadFlowSteps(ctx, r.db, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// List returns all flows, optionally restricted to active ones, ordered by
// priority then identifier.
func (r *FlowRepository) List(ctx context.Context, activeOnly bool) ([]*ApprovalFlow, error) {
	query := flowSelect + ` WHERE deleted_at IS NULL`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY priority ASC, id ASC`

	return r.listFlows(ctx, query)
}

// ListActiveByType returns all active flows of a document type in selection
// order (priority ascending, then identifier ascending), hydrated with steps
// and step users.
func (r *FlowRepository) ListActiveByType(ctx context.Context, docType DocumentType) ([]*ApprovalFlow, error) {
	query := flowSelect + `
		WHERE type = $1::approval_flow_type
		  AND is_active = TRUE
		  AND deleted_at IS NULL
		ORDER BY priority ASC, id ASC`

	return r.listFlows(ctx, query, docType)
}

// SetActive toggles a flow's active flag.
func (r *FlowRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `
		UPDATE approval_flows
		SET is_active  = $2,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id
	`

	var returnedID int64
	err := r.db.QueryRow(ctx, query, id, active).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_flow", id)
	}
	return err
}

// SoftDelete marks a flow deleted. Instances keep their fixed flow reference;
// the flow simply stops matching new submissions.
func (r *FlowRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `
		UPDATE approval_flows
		SET deleted_at = NOW(),
		    is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id
	`

	var returnedID int64
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_flow", id)
	}
	return err
}

// ── hydration and scan helpers ───────────────────────────────────────────────

const flowSelect = `
	SELECT id, name, type, description, is_active,
	       min_amount, max_amount, conditions, priority,
	       created_at, updated_at
	FROM approval_flows`

func (r *FlowRepository) listFlows(ctx context.Context, query string, args ...any) ([]*ApprovalFlow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval flows")
	}
	defer rows.Close()

	var flows []*ApprovalFlow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval flow")
		}
		flows = append(flows, flow)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), errors.ErrCodeInternal, "failed to read approval flows")
	}

	for _, flow := range flows {
		if err := loadFlowSteps(ctx, r.db, flow); err != nil {
			return nil, err
		}
	}
	return flows, nil
}

// queryer abstracts the pool and a transaction so hydration helpers work in
// both.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// loadFlowSteps attaches a flow's steps and their users.
func loadFlowSteps(ctx context.Context, q queryer, flow *ApprovalFlow) error {
	stepQuery := `
		SELECT id, flow_id, name, description, step_order,
		       policy, is_optional, timeout_hours, conditions,
		       created_at, updated_at
		FROM approval_steps
		WHERE flow_id = $1 AND deleted_at IS NULL
		ORDER BY step_order ASC
	`

	rows, err := q.Query(ctx, stepQuery, flow.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
	}
	defer rows.Close()

	steps := make(map[int64]*ApprovalStep)
	flow.Steps = nil
	for rows.Next() {
		step := &ApprovalStep{}
		var conditionsJSON []byte
		err := rows.Scan(
			&step.ID,
			&step.FlowID,
			&step.Name,
			&step.Description,
			&step.StepOrder,
			&step.Policy,
			&step.IsOptional,
			&step.TimeoutHours,
			&conditionsJSON,
			&step.CreatedAt,
			&step.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		if step.Conditions, err = unmarshalConditions(conditionsJSON); err != nil {
			return err
		}
		steps[step.ID] = step
		flow.Steps = append(flow.Steps, step)
	}
	if rows.Err() != nil {
		return errors.Wrap(rows.Err(), errors.ErrCodeInternal, "failed to read approval steps")
	}

	userQuery := `
		SELECT u.id, u.step_id, u.user_id, u.user_order, u.is_active
		FROM approval_step_users u
		JOIN approval_steps s ON s.id = u.step_id
		WHERE s.flow_id = $1
		ORDER BY u.step_id ASC, u.user_order ASC, u.id ASC
	`

	userRows, err := q.Query(ctx, userQuery, flow.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval step users")
	}
	defer userRows.Close()

	for userRows.Next() {
		u := &ApprovalStepUser{}
		if err := userRows.Scan(&u.ID, &u.StepID, &u.UserID, &u.UserOrder, &u.IsActive); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step user")
		}
		if step, ok := steps[u.StepID]; ok {
			step.Users = append(step.Users, u)
		}
	}
	if err := userRows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval step users")
	}
	return nil
}

type flowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row flowScanner) (*ApprovalFlow, error) {
	flow := &ApprovalFlow{}
	var conditionsJSON []byte

	err := row.Scan(
		&flow.ID,
		&flow.Name,
		&flow.Type,
		&flow.Description,
		&flow.IsActive,
		&flow.MinAmount,
		&flow.MaxAmount,
		&conditionsJSON,
		&flow.Priority,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if flow.Conditions, err = unmarshalConditions(conditionsJSON); err != nil {
		return nil, err
	}
	return flow, nil
}

func marshalConditions(conditions map[string]any) ([]byte, error) {
	if conditions == nil {
		return nil, nil
	}
	data, err := json.Marshal(conditions)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal conditions")
	}
	return data, nil
}

func unmarshalConditions(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var conditions map[string]any
	if err := json.Unmarshal(data, &conditions); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal conditions")
	}
	return conditions, nil
}
