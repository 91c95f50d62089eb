package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Compile-time check: WorkflowRepository implements the domain port.
var _ domain.WorkflowRepository = (*WorkflowRepository)(nil)

// WorkflowRepository persists workflow requests and their saga steps.
// Request updates are compare-and-swap on version; step updates key on
// (workflow_id, sequence_index), the step's idempotency identity.
type WorkflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository creates a repository on the shared store.
func NewWorkflowRepository(store *Store) *WorkflowRepository {
	return &WorkflowRepository{db: store.DB()}
}

func (r *WorkflowRepository) Create(ctx context.Context, wf domain.WorkflowRequest) error {
	params, err := json.Marshal(wf.Params)
	if err != nil {
		return fmt.Errorf("marshalling workflow params: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_requests (id, type, subject_id, status,
		    requires_approval, requested_by, approved_by, rejected_by, reason,
		    remarks, failure_code, params, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, string(wf.Type), wf.SubjectID, string(wf.Status),
		boolToInt(wf.RequiresApproval), wf.RequestedBy, wf.ApprovedBy,
		wf.RejectedBy, wf.Reason, wf.Remarks, wf.FailureCode, string(params),
		wf.Version, formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.StateConflictError{
				Message: fmt.Sprintf("workflow request %s already exists", wf.ID),
			}
		}
		return fmt.Errorf("inserting workflow request: %w", err)
	}

	for _, step := range wf.Steps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO saga_steps (workflow_id, sequence_index, target_system,
			    action, status, attempt_count, last_error, external_ref)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			step.WorkflowID, step.SequenceIndex, string(step.TargetSystem),
			step.Action, string(step.Status), step.AttemptCount,
			step.LastError, step.ExternalRef,
		)
		if err != nil {
			return fmt.Errorf("inserting saga step %d: %w", step.SequenceIndex, err)
		}
	}

	return tx.Commit()
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (domain.WorkflowRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, type, subject_id, status, requires_approval, requested_by,
		    approved_by, rejected_by, reason, remarks, failure_code, params,
		    version, created_at, updated_at
		 FROM workflow_requests WHERE id = ?`, id)

	wf, err := scanWorkflow(row.Scan)
	if err != nil {
		return domain.WorkflowRequest{}, err
	}

	wf.Steps, err = r.loadSteps(ctx, wf.ID)
	if err != nil {
		return domain.WorkflowRequest{}, err
	}
	return wf, nil
}

func (r *WorkflowRepository) List(ctx context.Context, filter domain.WorkflowListFilter) ([]domain.WorkflowRequest, error) {
	query := `SELECT id, type, subject_id, status, requires_approval,
	    requested_by, approved_by, rejected_by, reason, remarks, failure_code,
	    params, version, created_at, updated_at FROM workflow_requests`
	var conds []string
	var args []any

	if filter.Status != nil {
		conds = append(conds, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.SubjectID != "" {
		conds = append(conds, `subject_id = ?`)
		args = append(args, filter.SubjectID)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workflow requests: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowRequest
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Steps, err = r.loadSteps(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Update writes the request row only if the caller's version still matches.
func (r *WorkflowRepository) Update(ctx context.Context, wf domain.WorkflowRequest) error {
	rows, err := execWorkflowCAS(ctx, r.db, wf)
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, wf.ID); errors.Is(err, domain.ErrWorkflowNotFound) {
			return domain.ErrWorkflowNotFound
		}
		return domain.NewVersionConflict("workflow request", wf.ID)
	}
	return nil
}

// execWorkflowCAS runs the version-checked update against db, which may be
// the store connection or an open transaction.
func execWorkflowCAS(ctx context.Context, db execer, wf domain.WorkflowRequest) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE workflow_requests
		 SET status = ?, approved_by = ?, rejected_by = ?, reason = ?,
		     remarks = ?, failure_code = ?, version = version + 1,
		     updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(wf.Status), wf.ApprovedBy, wf.RejectedBy, wf.Reason,
		wf.Remarks, wf.FailureCode, formatTime(wf.UpdatedAt),
		wf.ID, wf.Version,
	)
	if err != nil {
		return 0, fmt.Errorf("updating workflow request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows, nil
}

// CommitOutcome writes the workflow's terminal state and any subscription
// effects in one transaction. Every row is version-checked; a stale version
// anywhere rolls the whole write back and reports a conflict, leaving the
// database exactly as the saga found it.
func (r *WorkflowRepository) CommitOutcome(ctx context.Context, wf domain.WorkflowRequest, subs []domain.Subscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, sub := range subs {
		rows, err := execSubscriptionCAS(ctx, tx, sub)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.NewVersionConflict("subscription", sub.ID)
		}
	}

	rows, err := execWorkflowCAS(ctx, tx, wf)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.NewVersionConflict("workflow request", wf.ID)
	}

	return tx.Commit()
}

func (r *WorkflowRepository) UpdateStep(ctx context.Context, step domain.SagaStep) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE saga_steps
		 SET status = ?, attempt_count = ?, last_error = ?, external_ref = ?
		 WHERE workflow_id = ? AND sequence_index = ?`,
		string(step.Status), step.AttemptCount, step.LastError,
		step.ExternalRef, step.WorkflowID, step.SequenceIndex,
	)
	if err != nil {
		return fmt.Errorf("updating saga step: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

// HasInProgress backs the at-most-one-running-saga-per-subject invariant at
// the storage level, complementing the in-process lease.
func (r *WorkflowRepository) HasInProgress(ctx context.Context, subjectID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_requests
		 WHERE subject_id = ? AND status = ?`,
		subjectID, string(domain.WorkflowInProgress),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting in-progress workflows: %w", err)
	}
	return count > 0, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflowID string) ([]domain.SagaStep, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT workflow_id, sequence_index, target_system, action, status,
		    attempt_count, last_error, external_ref
		 FROM saga_steps WHERE workflow_id = ? ORDER BY sequence_index`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading saga steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.SagaStep
	for rows.Next() {
		var s domain.SagaStep
		var target, status string
		if err := rows.Scan(&s.WorkflowID, &s.SequenceIndex, &target,
			&s.Action, &status, &s.AttemptCount, &s.LastError,
			&s.ExternalRef); err != nil {
			return nil, fmt.Errorf("scanning saga step: %w", err)
		}
		s.TargetSystem = domain.TargetSystem(target)
		s.Status = domain.StepStatus(status)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func scanWorkflow(scan func(dest ...any) error) (domain.WorkflowRequest, error) {
	var wf domain.WorkflowRequest
	var wfType, status, params, createdAt, updatedAt string
	var requiresApproval int

	err := scan(&wf.ID, &wfType, &wf.SubjectID, &status, &requiresApproval,
		&wf.RequestedBy, &wf.ApprovedBy, &wf.RejectedBy, &wf.Reason,
		&wf.Remarks, &wf.FailureCode, &params, &wf.Version, &createdAt,
		&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkflowRequest{}, domain.ErrWorkflowNotFound
		}
		return domain.WorkflowRequest{}, fmt.Errorf("scanning workflow request: %w", err)
	}

	wf.Type = domain.WorkflowType(wfType)
	wf.Status = domain.WorkflowStatus(status)
	wf.RequiresApproval = requiresApproval != 0
	if err := json.Unmarshal([]byte(params), &wf.Params); err != nil {
		return domain.WorkflowRequest{}, fmt.Errorf("unmarshalling workflow params: %w", err)
	}
	wf.CreatedAt = parseTime(createdAt)
	wf.UpdatedAt = parseTime(updatedAt)

	return wf, nil
}
