package domain

import (
	"context"
	"time"
)

// SubscriptionRepository defines the persistence contract for subscriptions.
// Update performs an optimistic compare-and-swap on Version and returns a
// StateConflictError when the row has moved since it was read.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub Subscription) error
	GetByID(ctx context.Context, id string) (Subscription, error)
	Update(ctx context.Context, sub Subscription) error
}

// WorkflowListFilter holds optional criteria for listing workflow requests.
type WorkflowListFilter struct {
	Status    *WorkflowStatus
	SubjectID string
	Limit     int
	Offset    int
}

// WorkflowRepository defines the persistence contract for workflow requests
// and their saga steps. Update is a compare-and-swap on Version.
//
// CommitOutcome persists a saga's terminal workflow status together with its
// subscription effects in one atomic write: either every row lands or none
// does. Version checks apply to every row; a conflict anywhere surfaces as a
// StateConflictError with nothing applied, so a re-run of the saga sees the
// pre-commit state.
type WorkflowRepository interface {
	Create(ctx context.Context, wf WorkflowRequest) error
	GetByID(ctx context.Context, id string) (WorkflowRequest, error)
	List(ctx context.Context, filter WorkflowListFilter) ([]WorkflowRequest, error)
	Update(ctx context.Context, wf WorkflowRequest) error
	UpdateStep(ctx context.Context, step SagaStep) error
	HasInProgress(ctx context.Context, subjectID string) (bool, error)
	CommitOutcome(ctx context.Context, wf WorkflowRequest, subs []Subscription) error
}

// AuditLedger is the append-only event store. Record never drops an event
// silently: a write failure is surfaced to the caller.
type AuditLedger interface {
	Record(ctx context.Context, event AuditEvent) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]AuditEvent, error)
}

// PaymentRepository is the read model over customer payments.
type PaymentRepository interface {
	GetByID(ctx context.Context, id string) (Payment, error)
	ListSince(ctx context.Context, subscriptionID string, since time.Time) ([]Payment, error)
}

// PlanCatalog lists the plans a subscription can be reconnected onto.
type PlanCatalog interface {
	List(ctx context.Context) ([]Plan, error)
	GetByID(ctx context.Context, id string) (Plan, error)
}

// StepRequest is the wire shape sent to every downstream collaborator.
type StepRequest struct {
	WorkflowID     string         `json:"workflowId"`
	StepIndex      int            `json:"stepIndex"`
	Action         string         `json:"action"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// StepResponse is the wire shape returned by every downstream collaborator.
type StepResponse struct {
	Success     bool   `json:"success"`
	ExternalRef string `json:"externalRef"`
	ErrorCode   string `json:"errorCode,omitempty"`
}

// Dispatcher routes saga step calls to the downstream collaborators.
// Both calls are idempotent via StepRequest.IdempotencyKey.
type Dispatcher interface {
	Execute(ctx context.Context, target TargetSystem, req StepRequest) (StepResponse, error)
	Compensate(ctx context.Context, target TargetSystem, req StepRequest) (StepResponse, error)
}

// TransitionValidator checks subscription transition legality.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// LockValidator checks lockable-resource transition legality, shared across
// resource kinds.
type LockValidator interface {
	Apply(ctx context.Context, current LockState, event LockEvent) (LockState, error)
}

// JobQueue hands an approved workflow to the asynchronous task pool.
type JobQueue interface {
	EnqueueWorkflow(ctx context.Context, workflowID string) error
}
