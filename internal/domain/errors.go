package domain

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to callers. Every failure carries one.
const (
	CodeValidation       = "VALIDATION"
	CodeStateConflict    = "STATE_CONFLICT"
	CodeExternalSystem   = "EXTERNAL_SYSTEM"
	CodeTerminalWorkflow = "TERMINAL_WORKFLOW"
	CodeApprovalRequired = "APPROVAL_REQUIRED"
	CodeNoEligiblePlan   = "NO_ELIGIBLE_PLAN"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrWorkflowNotFound     = errors.New("workflow request not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSubjectBusy          = errors.New("another workflow is in progress for this subject")
)

// ValidationError is returned for a malformed or incomplete request.
// It is rejected immediately and produces no side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Code returns the stable error code.
func (e *ValidationError) Code() string { return CodeValidation }

// StateConflictError is returned for an illegal transition or a lost
// optimistic-concurrency race. Never retried.
type StateConflictError struct {
	Event   Event  // set when the conflict is an illegal transition
	Current Status // state the transition was attempted from
	Message string // set when the conflict is a version mismatch
}

func (e *StateConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// Code returns the stable error code.
func (e *StateConflictError) Code() string { return CodeStateConflict }

// NewVersionConflict builds the conflict for a lost compare-and-swap.
func NewVersionConflict(entity, id string) *StateConflictError {
	return &StateConflictError{Message: fmt.Sprintf("%s %q was modified concurrently", entity, id)}
}

// ExternalSystemError is a transient downstream failure, retried per the
// backoff policy before the step is declared failed.
type ExternalSystemError struct {
	Target    TargetSystem
	ErrorCode string
	Err       error
}

func (e *ExternalSystemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s call failed: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("%s call failed with code %s", e.Target, e.ErrorCode)
}

func (e *ExternalSystemError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *ExternalSystemError) Code() string { return CodeExternalSystem }

// TerminalWorkflowError means retries were exhausted: the saga has been
// compensated and the workflow routed to failure or manual review.
type TerminalWorkflowError struct {
	WorkflowID string
	StepIndex  int
	Err        error
}

func (e *TerminalWorkflowError) Error() string {
	return fmt.Sprintf("workflow %s failed at step %d: %v", e.WorkflowID, e.StepIndex, e.Err)
}

func (e *TerminalWorkflowError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *TerminalWorkflowError) Code() string { return CodeTerminalWorkflow }

// ApprovalRequiredError marks a request blocked pending a human decision.
// Not a failure: a distinct terminal-until-decided state.
type ApprovalRequiredError struct {
	WorkflowID string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("workflow %s requires approval before execution", e.WorkflowID)
}

// Code returns the stable error code.
func (e *ApprovalRequiredError) Code() string { return CodeApprovalRequired }
