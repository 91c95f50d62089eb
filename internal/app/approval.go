package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/subiq/internal/domain"
)

// minRejectionReason is the shortest acceptable rejection reason. Rejections
// are terminal and audited, so a throwaway reason is not accepted.
const minRejectionReason = 10

// WorkflowForwarder hands a decided workflow to the saga coordinator.
type WorkflowForwarder interface {
	Enqueue(ctx context.Context, workflowID string) error
}

// CreateWorkflowInput is the request shape accepted from the UI layer.
type CreateWorkflowInput struct {
	Type        domain.WorkflowType
	SubjectID   string
	RequestedBy string
	Params      domain.WorkflowParams
}

// ApprovalGate gates financially-sensitive requests behind a human decision
// before any downstream work begins. Non-gated types are forwarded to the
// coordinator as soon as they are created.
type ApprovalGate struct {
	workflows domain.WorkflowRepository
	payments  domain.PaymentRepository
	ledger    domain.AuditLedger
	forwarder WorkflowForwarder
	now       func() time.Time
}

// NewApprovalGate creates a gate with the given adapters.
func NewApprovalGate(workflows domain.WorkflowRepository, payments domain.PaymentRepository, ledger domain.AuditLedger, forwarder WorkflowForwarder) *ApprovalGate {
	return &ApprovalGate{
		workflows: workflows,
		payments:  payments,
		ledger:    ledger,
		forwarder: forwarder,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and persists a new workflow request. Gated types stay
// Pending until a human decides; everything else is approved on the spot and
// forwarded to the coordinator.
func (g *ApprovalGate) Submit(ctx context.Context, in CreateWorkflowInput) (domain.WorkflowRequest, error) {
	id, err := generateID()
	if err != nil {
		return domain.WorkflowRequest{}, fmt.Errorf("generating workflow id: %w", err)
	}

	wf, err := domain.NewWorkflowRequest(id, in.Type, in.SubjectID, in.RequestedBy, in.Params)
	if err != nil {
		return domain.WorkflowRequest{}, err
	}

	// Receipt cancellation is only possible while the payment's financial
	// period is still open. Checked at submit time so a doomed request never
	// reaches an approver.
	if wf.Type == domain.TypeReceiptCancellation {
		payment, err := g.payments.GetByID(ctx, wf.SubjectID)
		if err != nil {
			return domain.WorkflowRequest{}, err
		}
		if !domain.FinancialPeriodOpen(payment.CreatedAt, g.now()) {
			return domain.WorkflowRequest{}, &domain.ValidationError{
				Field:   "subjectId",
				Message: "the payment's financial period has closed; cancellation is no longer possible",
			}
		}
	}

	if !wf.RequiresApproval {
		wf.Status = domain.WorkflowApproved
	}

	if err := g.workflows.Create(ctx, wf); err != nil {
		return domain.WorkflowRequest{}, fmt.Errorf("creating workflow request: %w", err)
	}

	if err := g.audit(ctx, wf, domain.AuditWorkflowSubmitted, wf.RequestedBy); err != nil {
		return domain.WorkflowRequest{}, err
	}

	if !wf.RequiresApproval {
		if err := g.forwarder.Enqueue(ctx, wf.ID); err != nil {
			return domain.WorkflowRequest{}, fmt.Errorf("forwarding workflow %s: %w", wf.ID, err)
		}
	}

	return wf, nil
}

// Approve records the approver's decision and forwards the workflow to the
// coordinator. The version check rejects a concurrent double-approval.
func (g *ApprovalGate) Approve(ctx context.Context, id, approver, remarks string) (domain.WorkflowRequest, error) {
	if approver == "" {
		return domain.WorkflowRequest{}, &domain.ValidationError{Field: "approver", Message: "approver is required"}
	}

	wf, err := g.workflows.GetByID(ctx, id)
	if err != nil {
		return domain.WorkflowRequest{}, err
	}
	if !wf.RequiresApproval {
		return domain.WorkflowRequest{}, &domain.ValidationError{Field: "id", Message: "workflow does not require approval"}
	}
	if wf.Status != domain.WorkflowPending {
		return domain.WorkflowRequest{}, &domain.StateConflictError{
			Message: fmt.Sprintf("workflow %s is %s, not pending", wf.ID, wf.Status),
		}
	}

	wf.Status = domain.WorkflowApproved
	wf.ApprovedBy = approver
	wf.Remarks = remarks
	wf.UpdatedAt = g.now()

	if err := g.workflows.Update(ctx, wf); err != nil {
		return domain.WorkflowRequest{}, err
	}

	if err := g.audit(ctx, wf, domain.AuditWorkflowApproved, approver); err != nil {
		return domain.WorkflowRequest{}, err
	}

	if err := g.forwarder.Enqueue(ctx, wf.ID); err != nil {
		return domain.WorkflowRequest{}, fmt.Errorf("forwarding workflow %s: %w", wf.ID, err)
	}

	return wf, nil
}

// Reject terminates a pending workflow with no side effects: no downstream
// collaborator is ever invoked for a rejected request. The reason is
// validated before any state is touched, so a too-short reason leaves the
// request Pending and writes nothing to the ledger.
func (g *ApprovalGate) Reject(ctx context.Context, id, approver, reason string) (domain.WorkflowRequest, error) {
	if approver == "" {
		return domain.WorkflowRequest{}, &domain.ValidationError{Field: "approver", Message: "approver is required"}
	}
	if len(strings.TrimSpace(reason)) < minRejectionReason {
		return domain.WorkflowRequest{}, &domain.ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("rejection reason must be at least %d characters", minRejectionReason),
		}
	}

	wf, err := g.workflows.GetByID(ctx, id)
	if err != nil {
		return domain.WorkflowRequest{}, err
	}
	if wf.Status != domain.WorkflowPending {
		return domain.WorkflowRequest{}, &domain.StateConflictError{
			Message: fmt.Sprintf("workflow %s is %s, not pending", wf.ID, wf.Status),
		}
	}

	wf.Status = domain.WorkflowRejected
	wf.RejectedBy = approver
	wf.Reason = reason
	wf.UpdatedAt = g.now()

	if err := g.workflows.Update(ctx, wf); err != nil {
		return domain.WorkflowRequest{}, err
	}

	if err := g.audit(ctx, wf, domain.AuditWorkflowRejected, approver); err != nil {
		return domain.WorkflowRequest{}, err
	}

	return wf, nil
}

func (g *ApprovalGate) audit(ctx context.Context, wf domain.WorkflowRequest, eventType, actor string) error {
	id, err := generateID()
	if err != nil {
		return fmt.Errorf("generating audit id: %w", err)
	}
	event := domain.NewAuditEvent(id, "workflow_request", wf.ID, eventType, actor, map[string]any{
		"type":      wf.Type,
		"subjectId": wf.SubjectID,
		"status":    wf.Status,
		"reason":    wf.Reason,
		"remarks":   wf.Remarks,
	})
	if err := g.ledger.Record(ctx, event); err != nil {
		return fmt.Errorf("recording %s: %w", eventType, err)
	}
	return nil
}
