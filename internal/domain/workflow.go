package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WorkflowType identifies the kind of lifecycle or financial operation a
// workflow request performs.
type WorkflowType string

const (
	TypeSuspension         WorkflowType = "suspension"
	TypeReconnection       WorkflowType = "reconnection"
	TypeAutoReconnection   WorkflowType = "auto_reconnection"
	TypeTermination        WorkflowType = "termination"
	TypeAdjustment         WorkflowType = "adjustment"
	TypeTransfer           WorkflowType = "transfer"
	TypeReceiptCancellation WorkflowType = "receipt_cancellation"
)

// RequiresApproval reports whether requests of this type wait for a human
// decision before any downstream work begins. Financially-sensitive types
// (money movement, receipt reversal) always do.
func (t WorkflowType) RequiresApproval() bool {
	switch t {
	case TypeAdjustment, TypeTransfer, TypeReceiptCancellation:
		return true
	default:
		return false
	}
}

// LifecycleEvent returns the subscription transition this workflow commits on
// success. Financial types return false: they move money, not status.
func (t WorkflowType) LifecycleEvent() (Event, bool) {
	switch t {
	case TypeSuspension:
		return EventSuspend, true
	case TypeReconnection:
		return EventReconnect, true
	case TypeAutoReconnection:
		return EventAutoReconnect, true
	case TypeTermination:
		return EventTerminate, true
	default:
		return "", false
	}
}

// WorkflowStatus represents the lifecycle state of a workflow request.
type WorkflowStatus string

const (
	WorkflowPending      WorkflowStatus = "pending"
	WorkflowApproved     WorkflowStatus = "approved"
	WorkflowRejected     WorkflowStatus = "rejected"
	WorkflowInProgress   WorkflowStatus = "in_progress"
	WorkflowCompleted    WorkflowStatus = "completed"
	WorkflowFailed       WorkflowStatus = "failed"
	WorkflowManualReview WorkflowStatus = "manual_review"
)

// TargetSystem names a downstream collaborator a saga step calls.
type TargetSystem string

const (
	TargetContractBilling   TargetSystem = "contract_billing"
	TargetProvisioning      TargetSystem = "provisioning"
	TargetConditionalAccess TargetSystem = "conditional_access"
	TargetCharging          TargetSystem = "charging"
	TargetTaxLedger         TargetSystem = "tax_ledger"
)

// StepStatus represents the execution state of a single saga step.
type StepStatus string

const (
	StepPending            StepStatus = "pending"
	StepInFlight           StepStatus = "in_flight"
	StepSucceeded          StepStatus = "succeeded"
	StepFailed             StepStatus = "failed"
	StepCompensated        StepStatus = "compensated"
	StepCompensationFailed StepStatus = "compensation_failed"
)

// SagaStep is one ordered, retryable, compensable call against a downstream
// system. Steps execute strictly in SequenceIndex order.
type SagaStep struct {
	WorkflowID    string
	SequenceIndex int
	TargetSystem  TargetSystem
	Action        string
	Status        StepStatus
	AttemptCount  int
	LastError     string
	ExternalRef   string
}

// IdempotencyKey uniquely identifies this step across retries so downstream
// systems can deduplicate repeated attempts.
func (s SagaStep) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", s.WorkflowID, s.SequenceIndex)
}

// stepTemplate is a (target, action) pair in a workflow's step plan.
type stepTemplate struct {
	target TargetSystem
	action string
}

// stepPlans maps each workflow type to its ordered downstream calls.
// Compensation replays the plan in reverse with the compensating action
// derived by the dispatcher from the original action.
var stepPlans = map[WorkflowType][]stepTemplate{
	TypeSuspension: {
		{TargetCharging, "stop_allowance"},
		{TargetConditionalAccess, "deactivate_entitlement"},
		{TargetProvisioning, "lock_device"},
		{TargetContractBilling, "suspend_contract"},
	},
	TypeReconnection: {
		{TargetContractBilling, "resume_contract"},
		{TargetProvisioning, "unlock_device"},
		{TargetConditionalAccess, "activate_entitlement"},
		{TargetCharging, "start_allowance"},
	},
	TypeAutoReconnection: {
		{TargetContractBilling, "resume_contract"},
		{TargetProvisioning, "unlock_device"},
		{TargetConditionalAccess, "activate_entitlement"},
		{TargetCharging, "start_allowance"},
	},
	TypeTermination: {
		{TargetCharging, "stop_allowance"},
		{TargetConditionalAccess, "deactivate_entitlement"},
		{TargetProvisioning, "lock_device"},
		{TargetContractBilling, "terminate_contract"},
	},
	TypeAdjustment: {
		{TargetContractBilling, "post_adjustment"},
		{TargetTaxLedger, "post_tax"},
	},
	TypeTransfer: {
		{TargetContractBilling, "reverse_posting"},
		{TargetContractBilling, "post_transfer"},
		{TargetTaxLedger, "post_tax"},
	},
	TypeReceiptCancellation: {
		{TargetContractBilling, "reverse_receipt"},
		{TargetTaxLedger, "reverse_tax"},
	},
}

// StepPlan builds the ordered saga steps for a workflow of the given type.
func StepPlan(workflowID string, t WorkflowType) []SagaStep {
	templates := stepPlans[t]
	steps := make([]SagaStep, len(templates))
	for i, tpl := range templates {
		steps[i] = SagaStep{
			WorkflowID:    workflowID,
			SequenceIndex: i,
			TargetSystem:  tpl.target,
			Action:        tpl.action,
			Status:        StepPending,
		}
	}
	return steps
}

// WorkflowParams carries the type-specific inputs of a workflow request.
type WorkflowParams struct {
	Reason    string          `json:"reason,omitempty"`
	Confirmed bool            `json:"confirmed,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	TargetID  string          `json:"target_id,omitempty"`
}

// WorkflowRequest is a single lifecycle or financial operation moving through
// the approval gate and the saga coordinator. Version backs the optimistic
// concurrency check that detects concurrent approvals.
type WorkflowRequest struct {
	ID               string
	Type             WorkflowType
	SubjectID        string
	Status           WorkflowStatus
	RequiresApproval bool
	RequestedBy      string
	ApprovedBy       string
	RejectedBy       string
	Reason           string
	Remarks          string
	FailureCode      string
	Params           WorkflowParams
	Steps            []SagaStep
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewWorkflowRequest creates a pending request with its full step plan.
// It validates the type-specific parameters up front: a malformed request is
// rejected before it can reach the gate or the coordinator.
func NewWorkflowRequest(id string, t WorkflowType, subjectID, requestedBy string, params WorkflowParams) (WorkflowRequest, error) {
	if subjectID == "" {
		return WorkflowRequest{}, &ValidationError{Field: "subjectId", Message: "subject id is required"}
	}
	if requestedBy == "" {
		return WorkflowRequest{}, &ValidationError{Field: "requestedBy", Message: "requester is required"}
	}
	if _, ok := stepPlans[t]; !ok {
		return WorkflowRequest{}, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown workflow type %q", t)}
	}

	switch t {
	case TypeSuspension:
		if params.Reason == "" {
			return WorkflowRequest{}, &ValidationError{Field: "reason", Message: "suspension requires a reason"}
		}
	case TypeTermination:
		if !params.Confirmed {
			return WorkflowRequest{}, &ValidationError{Field: "confirmed", Message: "termination is irreversible and requires explicit confirmation"}
		}
	case TypeAdjustment:
		if params.Amount.IsZero() {
			return WorkflowRequest{}, &ValidationError{Field: "amount", Message: "adjustment requires a non-zero amount"}
		}
	case TypeTransfer:
		if params.Amount.Sign() <= 0 {
			return WorkflowRequest{}, &ValidationError{Field: "amount", Message: "transfer requires a positive amount"}
		}
		if params.TargetID == "" {
			return WorkflowRequest{}, &ValidationError{Field: "targetId", Message: "transfer requires a destination"}
		}
	}

	now := time.Now().UTC()
	return WorkflowRequest{
		ID:               id,
		Type:             t,
		SubjectID:        subjectID,
		Status:           WorkflowPending,
		RequiresApproval: t.RequiresApproval(),
		RequestedBy:      requestedBy,
		Params:           params,
		Steps:            StepPlan(id, t),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Progress is the derived view of saga advancement exposed to the UI layer.
// It is computed from persisted step rows, never from a client-side timer.
type Progress struct {
	CompletedSteps int
	TotalSteps     int
	Percent        int
	Status         WorkflowStatus
	FailureCode    string
}

// Progress derives completion from the step statuses.
func (w WorkflowRequest) Progress() Progress {
	completed := 0
	for _, s := range w.Steps {
		if s.Status == StepSucceeded {
			completed++
		}
	}
	p := Progress{
		CompletedSteps: completed,
		TotalSteps:     len(w.Steps),
		Status:         w.Status,
		FailureCode:    w.FailureCode,
	}
	if p.TotalSteps > 0 {
		p.Percent = completed * 100 / p.TotalSteps
	}
	return p
}
