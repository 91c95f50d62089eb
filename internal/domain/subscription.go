package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusDisconnected Status = "disconnected"
	StatusTerminated   Status = "terminated"
)

// Event represents an action that triggers a state transition.
type Event string

const (
	EventSuspend       Event = "suspend"
	EventReconnect     Event = "reconnect"
	EventAutoReconnect Event = "auto_reconnect"
	EventDisconnect    Event = "disconnect"
	EventTerminate     Event = "terminate"
)

// Transition defines a valid state change: an event moves a subscription from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the subscription lifecycle.
// Terminated is absorbing: no transition leaves it. This is domain knowledge
// consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventSuspend, Src: StatusActive, Dst: StatusSuspended},
	{Event: EventReconnect, Src: StatusSuspended, Dst: StatusActive},
	{Event: EventDisconnect, Src: StatusActive, Dst: StatusDisconnected},
	{Event: EventDisconnect, Src: StatusSuspended, Dst: StatusDisconnected},
	{Event: EventAutoReconnect, Src: StatusDisconnected, Dst: StatusActive},
	{Event: EventTerminate, Src: StatusActive, Dst: StatusTerminated},
	{Event: EventTerminate, Src: StatusSuspended, Dst: StatusTerminated},
	{Event: EventTerminate, Src: StatusDisconnected, Dst: StatusTerminated},
}

// Subscription is the core domain entity representing a customer's service.
// Status is mutated only as the terminal effect of a completed workflow;
// Version backs the optimistic concurrency check on every update.
type Subscription struct {
	ID             string
	CustomerID     string
	Status         Status
	PlanID         string
	PlanFamily     string
	PlanStartDate  time.Time
	PlanEndDate    time.Time
	WalletBalance  decimal.Decimal
	ContractID     string
	SuspendedAt    *time.Time
	NoEligiblePlan bool
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSubscription creates an active subscription on the given plan.
func NewSubscription(id, customerID, contractID, planID, planFamily string, start, end time.Time) Subscription {
	now := time.Now().UTC()
	return Subscription{
		ID:            id,
		CustomerID:    customerID,
		Status:        StatusActive,
		PlanID:        planID,
		PlanFamily:    planFamily,
		PlanStartDate: start,
		PlanEndDate:   end,
		WalletBalance: decimal.Zero,
		ContractID:    contractID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SuspensionDays returns the whole days elapsed since the subscription was
// suspended. Manual reconnection extends PlanEndDate by exactly this amount.
func (s Subscription) SuspensionDays(now time.Time) int {
	if s.SuspendedAt == nil {
		return 0
	}
	return int(now.Sub(*s.SuspendedAt).Hours() / 24)
}
