package app_test

import (
	"context"
	"sync"
	"time"

	"github.com/neomorfeo/subiq/internal/domain"
)

// memSubscriptions is an in-memory SubscriptionRepository with the same
// compare-and-swap semantics as the SQLite adapter.
type memSubscriptions struct {
	mu   sync.Mutex
	rows map[string]domain.Subscription
}

func newMemSubscriptions() *memSubscriptions {
	return &memSubscriptions{rows: make(map[string]domain.Subscription)}
}

func (m *memSubscriptions) Create(_ context.Context, sub domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sub.ID] = sub
	return nil
}

func (m *memSubscriptions) GetByID(_ context.Context, id string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[id]
	if !ok {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (m *memSubscriptions) Update(_ context.Context, sub domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[sub.ID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	if current.Version != sub.Version {
		return domain.NewVersionConflict("subscription", sub.ID)
	}
	sub.Version++
	m.rows[sub.ID] = sub
	return nil
}

// memWorkflows is an in-memory WorkflowRepository. The subs reference backs
// CommitOutcome's atomic cross-table write; gate tests leave it nil.
type memWorkflows struct {
	mu   sync.Mutex
	rows map[string]domain.WorkflowRequest
	subs *memSubscriptions
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{rows: make(map[string]domain.WorkflowRequest)}
}

func (m *memWorkflows) Create(_ context.Context, wf domain.WorkflowRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *memWorkflows) GetByID(_ context.Context, id string) (domain.WorkflowRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.rows[id]
	if !ok {
		return domain.WorkflowRequest{}, domain.ErrWorkflowNotFound
	}
	return cloneWorkflow(wf), nil
}

func (m *memWorkflows) List(_ context.Context, filter domain.WorkflowListFilter) ([]domain.WorkflowRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WorkflowRequest
	for _, wf := range m.rows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		if filter.SubjectID != "" && wf.SubjectID != filter.SubjectID {
			continue
		}
		out = append(out, cloneWorkflow(wf))
	}
	return out, nil
}

func (m *memWorkflows) Update(_ context.Context, wf domain.WorkflowRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[wf.ID]
	if !ok {
		return domain.ErrWorkflowNotFound
	}
	if current.Version != wf.Version {
		return domain.NewVersionConflict("workflow request", wf.ID)
	}
	wf.Version++
	wf.Steps = current.Steps
	m.rows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *memWorkflows) UpdateStep(_ context.Context, step domain.SagaStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.rows[step.WorkflowID]
	if !ok {
		return domain.ErrWorkflowNotFound
	}
	for i := range wf.Steps {
		if wf.Steps[i].SequenceIndex == step.SequenceIndex {
			wf.Steps[i] = step
			m.rows[wf.ID] = wf
			return nil
		}
	}
	return domain.ErrWorkflowNotFound
}

// CommitOutcome mirrors the SQLite adapter: every row is version-checked and
// either all rows land or none do.
func (m *memWorkflows) CommitOutcome(_ context.Context, wf domain.WorkflowRequest, subs []domain.Subscription) error {
	m.subs.mu.Lock()
	defer m.subs.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.rows[wf.ID]
	if !ok {
		return domain.ErrWorkflowNotFound
	}
	if current.Version != wf.Version {
		return domain.NewVersionConflict("workflow request", wf.ID)
	}
	for _, sub := range subs {
		row, ok := m.subs.rows[sub.ID]
		if !ok {
			return domain.ErrSubscriptionNotFound
		}
		if row.Version != sub.Version {
			return domain.NewVersionConflict("subscription", sub.ID)
		}
	}

	for _, sub := range subs {
		sub.Version++
		m.subs.rows[sub.ID] = sub
	}
	wf.Version++
	wf.Steps = current.Steps
	m.rows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *memWorkflows) HasInProgress(_ context.Context, subjectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.rows {
		if wf.SubjectID == subjectID && wf.Status == domain.WorkflowInProgress {
			return true, nil
		}
	}
	return false, nil
}

func cloneWorkflow(wf domain.WorkflowRequest) domain.WorkflowRequest {
	steps := make([]domain.SagaStep, len(wf.Steps))
	copy(steps, wf.Steps)
	wf.Steps = steps
	return wf
}

// memLedger records audit events in order.
type memLedger struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (m *memLedger) Record(_ context.Context, event domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memLedger) ListByEntity(_ context.Context, entityType, entityID string) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range m.events {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLedger) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

// memPayments serves canned payment rows.
type memPayments struct {
	rows map[string]domain.Payment
}

func newMemPayments() *memPayments {
	return &memPayments{rows: make(map[string]domain.Payment)}
}

func (m *memPayments) GetByID(_ context.Context, id string) (domain.Payment, error) {
	p, ok := m.rows[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (m *memPayments) ListSince(_ context.Context, subscriptionID string, since time.Time) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range m.rows {
		if p.SubscriptionID == subscriptionID && !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

// memCatalog serves a fixed plan list.
type memCatalog struct {
	plans []domain.Plan
}

func (m *memCatalog) List(_ context.Context) ([]domain.Plan, error) {
	return m.plans, nil
}

func (m *memCatalog) GetByID(_ context.Context, id string) (domain.Plan, error) {
	for _, p := range m.plans {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Plan{}, domain.ErrSubscriptionNotFound
}

// dispatchCall is one recorded dispatcher invocation.
type dispatchCall struct {
	Kind           string // "execute" or "compensate"
	Target         domain.TargetSystem
	IdempotencyKey string
	Payload        map[string]any
}

// scriptKey addresses a scripted outcome by target and attempt number.
type scriptKey struct {
	target  domain.TargetSystem
	attempt int
}

// fakeDispatcher records every call and can be scripted to fail specific
// attempts against specific targets.
type fakeDispatcher struct {
	mu              sync.Mutex
	calls           []dispatchCall
	attempts        map[domain.TargetSystem]int
	failures        map[scriptKey]domain.StepResponse
	failAll         map[domain.TargetSystem]bool
	compensateFails bool
	onExecute       func()
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		attempts: make(map[domain.TargetSystem]int),
		failures: make(map[scriptKey]domain.StepResponse),
		failAll:  make(map[domain.TargetSystem]bool),
	}
}

// failAttempts scripts the first n execute calls against target to fail.
func (d *fakeDispatcher) failAttempts(target domain.TargetSystem, n int) {
	for i := 1; i <= n; i++ {
		d.failures[scriptKey{target, i}] = domain.StepResponse{Success: false, ErrorCode: "TRANSIENT"}
	}
}

func (d *fakeDispatcher) Execute(_ context.Context, target domain.TargetSystem, req domain.StepRequest) (domain.StepResponse, error) {
	d.mu.Lock()
	d.attempts[target]++
	d.calls = append(d.calls, dispatchCall{Kind: "execute", Target: target, IdempotencyKey: req.IdempotencyKey, Payload: req.Payload})
	attempt := d.attempts[target]
	hook := d.onExecute
	d.mu.Unlock()

	if hook != nil {
		hook()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll[target] {
		return domain.StepResponse{Success: false, ErrorCode: "DOWN"}, nil
	}
	if resp, ok := d.failures[scriptKey{target, attempt}]; ok {
		return resp, nil
	}
	return domain.StepResponse{Success: true, ExternalRef: "ext-" + req.IdempotencyKey}, nil
}

func (d *fakeDispatcher) Compensate(_ context.Context, target domain.TargetSystem, req domain.StepRequest) (domain.StepResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{Kind: "compensate", Target: target, IdempotencyKey: req.IdempotencyKey})
	if d.compensateFails {
		return domain.StepResponse{Success: false, ErrorCode: "COMP_DOWN"}, nil
	}
	return domain.StepResponse{Success: true}, nil
}

func (d *fakeDispatcher) recorded() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatchCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// fakeForwarder records workflow ids handed to the coordinator.
type fakeForwarder struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeForwarder) Enqueue(_ context.Context, workflowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, workflowID)
	return nil
}

func (f *fakeForwarder) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

// fakeQueue records enqueued workflow ids.
type fakeQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *fakeQueue) EnqueueWorkflow(_ context.Context, workflowID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, workflowID)
	return nil
}
