package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/artisanerp/be-approvals/internal/database"
	"github.com/artisanerp/be-approvals/internal/errors"
)

// RecordRepository reads the immutable approval record history. Record
// inserts happen through InstanceMutation so they always commit with the
// instance update that they triggered.
type RecordRepository struct {
	db *database.DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *database.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// ListByInstance returns all records for an instance ordered by action time
// ascending. This is the authoritative audit trail.
func (r *RecordRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*ApprovalRecord, error) {
	return listRecords(ctx, r.db, instanceID)
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// insertRecord appends one record. The unique (instance_id, step_id,
// approver_id) index backs the one-action-per-step invariant at the storage
// layer; a violation surfaces as already_acted.
func insertRecord(ctx context.Context, q queryer, rec *ApprovalRecord) error {
	var attachmentsJSON []byte
	if rec.Attachments != nil {
		var err error
		attachmentsJSON, err = json.Marshal(rec.Attachments)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal attachments")
		}
	}

	query := `
		INSERT INTO approval_records
		    (instance_id, step_id, step_order, approver_id,
		     action, comments, reason, delegate_to_id,
		     attachments, action_at)
		VALUES ($1, $2, $3, $4,
		        $5::approval_action, $6, $7, $8,
		        $9, $10)
		RETURNING id
	`

	err := q.QueryRow(ctx, query,
		rec.InstanceID,
		rec.StepID,
		rec.StepOrder,
		rec.ApproverID,
		rec.Action,
		rec.Comments,
		rec.Reason,
		rec.DelegateToID,
		attachmentsJSON,
		rec.ActionAt,
	).Scan(&rec.ID)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.New(errors.ErrCodeAlreadyActed, "user already acted on this step")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert approval record")
	}
	return nil
}

func listRecords(ctx context.Context, q queryer, instanceID int64) ([]*ApprovalRecord, error) {
	query := `
		SELECT id, instance_id, step_id, step_order, approver_id,
		       action, comments, reason, delegate_to_id,
		       attachments, action_at
		FROM approval_records
		WHERE instance_id = $1
		ORDER BY action_at ASC, id ASC
	`

	rows, err := q.Query(ctx, query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval records")
	}
	defer rows.Close()

	var records []*ApprovalRecord
	for rows.Next() {
		rec := &ApprovalRecord{}
		var attachmentsJSON []byte
		err := rows.Scan(
			&rec.ID,
			&rec.InstanceID,
			&rec.StepID,
			&rec.StepOrder,
			&rec.ApproverID,
			&rec.Action,
			&rec.Comments,
			&rec.Reason,
			&rec.DelegateToID,
			&attachmentsJSON,
			&rec.ActionAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval record")
		}
		if len(attachmentsJSON) > 0 {
			if err := json.Unmarshal(attachmentsJSON, &rec.Attachments); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal attachments")
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval records")
	}
	return records, nil
}
