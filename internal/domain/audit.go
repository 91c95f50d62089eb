package domain

import (
	"encoding/json"
	"time"
)

// Audit event types. Every workflow decision and terminal outcome is recorded.
const (
	AuditWorkflowSubmitted    = "workflow.submitted"
	AuditWorkflowApproved     = "workflow.approved"
	AuditWorkflowRejected     = "workflow.rejected"
	AuditWorkflowCompleted    = "workflow.completed"
	AuditWorkflowFailed       = "workflow.failed"
	AuditWorkflowManualReview = "workflow.manual_review"
	AuditStatusTransitioned   = "subscription.transitioned"
	AuditNoEligiblePlan       = "subscription.no_eligible_plan"
)

// FinancialPeriodOpen reports whether the financial period in which a
// payment was created is still open. Periods close at calendar-month
// boundaries: once the month of the payment has ended, postings against it
// can no longer be reversed.
func FinancialPeriodOpen(paymentCreatedAt, now time.Time) bool {
	return paymentCreatedAt.Year() == now.Year() && paymentCreatedAt.Month() == now.Month()
}

// AuditEvent is one immutable row in the append-only ledger. Events are never
// updated or deleted; disputes and the receipt-cancellation eligibility check
// read them as written.
type AuditEvent struct {
	ID         string
	EntityType string
	EntityID   string
	EventType  string
	Actor      string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// NewAuditEvent creates an event with the payload snapshot marshalled to JSON.
// A payload that cannot be marshalled is recorded as null rather than dropping
// the event: the ledger must stay total.
func NewAuditEvent(id, entityType, entityID, eventType, actor string, payload any) AuditEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return AuditEvent{
		ID:         id,
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		Actor:      actor,
		Payload:    raw,
		CreatedAt:  time.Now().UTC(),
	}
}
