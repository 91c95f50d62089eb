package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Compile-time checks: the validators implement their domain ports.
var (
	_ domain.TransitionValidator = (*Validator)(nil)
	_ domain.LockValidator       = (*LockValidator)(nil)
)

// edge is the generic (event, src, dst) triple both edge tables reduce to.
type edge struct {
	event string
	src   string
	dst   string
}

// buildEvents converts an edge table into looplab/fsm EventDesc format.
// It consolidates edges with the same event+destination into a single
// EventDesc with multiple source states (e.g., EventTerminate from "active",
// "suspended" and "disconnected" all go to "terminated").
func buildEvents(edges []edge) []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, e := range edges {
		k := key{event: e.event, dst: e.dst}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], e.src)
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// fire runs one event against a short-lived FSM seeded with the current
// state. looplab/fsm is stateful (it tracks the current state internally),
// so a fresh instance per call keeps the validators pure lookups.
func fire(ctx context.Context, events []loopfsm.EventDesc, current, event string) (string, bool, error) {
	machine := loopfsm.NewFSM(current, events, nil)

	if err := machine.Event(ctx, event); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &noTransition) {
			return "", false, nil
		}
		return "", false, err
	}

	return machine.Current(), true, nil
}

var subscriptionEvents = buildEvents(subscriptionEdges())

func subscriptionEdges() []edge {
	out := make([]edge, len(domain.Transitions))
	for i, t := range domain.Transitions {
		out[i] = edge{event: string(t.Event), src: string(t.Src), dst: string(t.Dst)}
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm over the
// subscription lifecycle edge table.
type Validator struct{}

// New creates a new FSM-backed subscription transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply checks if the given event is valid from the current status and
// returns the destination status. Returns a domain.StateConflictError if the
// transition is not allowed; "terminated" has no outgoing edges, so every
// attempt from it fails here.
func (v *Validator) Apply(ctx context.Context, current domain.Status, event domain.Event) (domain.Status, error) {
	dst, ok, err := fire(ctx, subscriptionEvents, string(current), string(event))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &domain.StateConflictError{Event: event, Current: current}
	}
	return domain.Status(dst), nil
}

var lockEvents = buildEvents(lockEdges())

func lockEdges() []edge {
	out := make([]edge, len(domain.LockTransitions))
	for i, t := range domain.LockTransitions {
		out[i] = edge{event: string(t.Event), src: string(t.Src), dst: string(t.Dst)}
	}
	return out
}

// LockValidator implements domain.LockValidator over the shared lock/unlock
// edge table. One machine serves every resource kind.
type LockValidator struct{}

// NewLockValidator creates the FSM-backed lock validator.
func NewLockValidator() *LockValidator {
	return &LockValidator{}
}

// Apply checks a lock/unlock event against the current lock state.
func (v *LockValidator) Apply(ctx context.Context, current domain.LockState, event domain.LockEvent) (domain.LockState, error) {
	dst, ok, err := fire(ctx, lockEvents, string(current), string(event))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &domain.StateConflictError{
			Message: "event \"" + string(event) + "\" is not valid from lock state \"" + string(current) + "\"",
		}
	}
	return domain.LockState(dst), nil
}
