package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/subiq/internal/domain"
	"github.com/neomorfeo/subiq/internal/matching"
)

// RetryPolicy bounds step retries and the per-call timeout. The defaults are
// domain defaults; the real downstream contracts may tune them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	StepTimeout time.Duration
}

// DefaultRetryPolicy returns the standard saga retry tuning.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		StepTimeout: 30 * time.Second,
	}
}

// backoffDelay returns the exponential delay before the next attempt,
// capped at MaxDelay.
func backoffDelay(attempt int, p RetryPolicy) time.Duration {
	d := p.BaseDelay * (1 << (attempt - 1))
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// OrchestratorDeps bundles the coordinator's collaborators. Now and Sleep
// default to the real clock when left nil.
type OrchestratorDeps struct {
	Subscriptions domain.SubscriptionRepository
	Workflows     domain.WorkflowRepository
	Ledger        domain.AuditLedger
	Dispatcher    domain.Dispatcher
	Validator     domain.TransitionValidator
	Locks         domain.LockValidator
	Queue         domain.JobQueue
	Advisor       *ReconnectionAdvisor

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator drives multi-step cross-system execution: it acquires the
// per-subject lease, validates the target transition, executes saga steps in
// order with bounded retries, compensates on failure, and commits the
// subscription status only once, atomically, at full saga success.
type Orchestrator struct {
	subs       domain.SubscriptionRepository
	workflows  domain.WorkflowRepository
	ledger     domain.AuditLedger
	dispatcher domain.Dispatcher
	validator  domain.TransitionValidator
	locks      domain.LockValidator
	queue      domain.JobQueue
	advisor    *ReconnectionAdvisor
	leases     *SubjectLeases
	policy     RetryPolicy
	log        *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// Compile-time check: Orchestrator can stand in for the gate's forwarder.
var _ WorkflowForwarder = (*Orchestrator)(nil)

// NewOrchestrator creates a coordinator with the given adapters and policy.
func NewOrchestrator(deps OrchestratorDeps, policy RetryPolicy) *Orchestrator {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return &Orchestrator{
		subs:       deps.Subscriptions,
		workflows:  deps.Workflows,
		ledger:     deps.Ledger,
		dispatcher: deps.Dispatcher,
		validator:  deps.Validator,
		locks:      deps.Locks,
		queue:      deps.Queue,
		advisor:    deps.Advisor,
		leases:     NewSubjectLeases(),
		policy:     policy,
		log:        slog.Default(),
		now:        now,
		sleep:      sleep,
	}
}

// Enqueue hands an approved workflow to the async task pool. A pending gated
// workflow is refused with ApprovalRequiredError; anything already decided or
// running is a state conflict.
func (o *Orchestrator) Enqueue(ctx context.Context, workflowID string) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	switch wf.Status {
	case domain.WorkflowApproved:
	case domain.WorkflowPending:
		if wf.RequiresApproval {
			return &domain.ApprovalRequiredError{WorkflowID: wf.ID}
		}
		return &domain.StateConflictError{Message: fmt.Sprintf("workflow %s has not been approved", wf.ID)}
	default:
		return &domain.StateConflictError{Message: fmt.Sprintf("workflow %s is %s and cannot be enqueued", wf.ID, wf.Status)}
	}

	return o.queue.EnqueueWorkflow(ctx, wf.ID)
}

// GetWorkflow returns a workflow request with its steps.
func (o *Orchestrator) GetWorkflow(ctx context.Context, id string) (domain.WorkflowRequest, error) {
	return o.workflows.GetByID(ctx, id)
}

// ListWorkflows returns workflow requests matching the filter.
func (o *Orchestrator) ListWorkflows(ctx context.Context, filter domain.WorkflowListFilter) ([]domain.WorkflowRequest, error) {
	return o.workflows.List(ctx, filter)
}

// GetSubscription returns a subscription snapshot.
func (o *Orchestrator) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	return o.subs.GetByID(ctx, id)
}

// Progress returns the derived saga advancement for the UI layer.
func (o *Orchestrator) Progress(ctx context.Context, workflowID string) (domain.Progress, error) {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return domain.Progress{}, err
	}
	return wf.Progress(), nil
}

// ReconnectionPreview runs the matching cascade without side effects.
func (o *Orchestrator) ReconnectionPreview(ctx context.Context, subscriptionID string) (matching.Decision, error) {
	decision, _, err := o.advisor.Advise(ctx, subscriptionID)
	return decision, err
}

// Run executes one workflow's saga to a terminal state. It is called by the
// task-pool worker and is safe to re-invoke: completed and rejected workflows
// are no-ops, and a workflow interrupted mid-saga resumes past its already
// succeeded steps. Business failures are persisted on the workflow and Run
// returns nil; only infrastructure errors propagate so the pool retries them.
func (o *Orchestrator) Run(ctx context.Context, workflowID string) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	switch wf.Status {
	case domain.WorkflowApproved, domain.WorkflowInProgress:
	default:
		return nil
	}

	if !o.leases.Acquire(wf.SubjectID) {
		return domain.ErrSubjectBusy
	}
	defer o.leases.Release(wf.SubjectID)

	if wf.Status == domain.WorkflowApproved {
		busy, err := o.workflows.HasInProgress(ctx, wf.SubjectID)
		if err != nil {
			return err
		}
		if busy {
			return domain.ErrSubjectBusy
		}
		wf.Status = domain.WorkflowInProgress
		wf.UpdatedAt = o.now()
		if err := o.workflows.Update(ctx, wf); err != nil {
			return err
		}
		// Re-read: the update bumped the stored version, and every later
		// write CAS-checks against it.
		wf, err = o.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
	}

	event, isLifecycle := wf.Type.LifecycleEvent()

	var sub domain.Subscription
	var deviceState domain.LockState
	if isLifecycle {
		sub, err = o.subs.GetByID(ctx, wf.SubjectID)
		if err != nil {
			return err
		}
		if _, err := o.validator.Apply(ctx, sub.Status, event); err != nil {
			var conflict *domain.StateConflictError
			if errors.As(err, &conflict) {
				return o.failWorkflow(ctx, wf, domain.CodeStateConflict, conflict.Error())
			}
			return err
		}
		deviceState, err = o.deviceLockTarget(ctx, wf.Type, sub.Status)
		if err != nil {
			var conflict *domain.StateConflictError
			if errors.As(err, &conflict) {
				return o.failWorkflow(ctx, wf, domain.CodeStateConflict, conflict.Error())
			}
			return err
		}
	}

	var reconnectPlan domain.Plan
	if wf.Type == domain.TypeAutoReconnection {
		decision, plan, err := o.advisor.Advise(ctx, wf.SubjectID)
		if err != nil {
			return err
		}
		if !decision.Eligible {
			return o.flagNoEligiblePlan(ctx, wf, sub)
		}
		reconnectPlan = plan
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.Status == domain.StepSucceeded {
			continue
		}
		if err := o.executeStep(ctx, wf, step, deviceState); err != nil {
			var terminal *domain.TerminalWorkflowError
			if !errors.As(err, &terminal) {
				return err
			}
			return o.rollback(ctx, wf, i, deviceState, terminal)
		}
	}

	return o.commit(ctx, wf, sub, event, isLifecycle, reconnectPlan)
}

// deviceLockTarget checks the lock transition a lifecycle saga's provisioning
// step implies and returns the device's target lock state. A device already
// in the target state (terminating an already suspended subscription) skips
// the event rather than failing it.
func (o *Orchestrator) deviceLockTarget(ctx context.Context, t domain.WorkflowType, status domain.Status) (domain.LockState, error) {
	event, ok := deviceLockEvent(t)
	if !ok {
		return "", nil
	}
	current := deviceLockState(status)
	target := domain.LockStateLocked
	if event == domain.LockEventUnlock {
		target = domain.LockStateUnlocked
	}
	if current == target {
		return target, nil
	}
	return o.locks.Apply(ctx, current, event)
}

// deviceLockEvent maps a lifecycle workflow type to the lock event its
// provisioning step fires.
func deviceLockEvent(t domain.WorkflowType) (domain.LockEvent, bool) {
	switch t {
	case domain.TypeSuspension, domain.TypeTermination:
		return domain.LockEventLock, true
	case domain.TypeReconnection, domain.TypeAutoReconnection:
		return domain.LockEventUnlock, true
	}
	return "", false
}

// deviceLockState derives the device's lock state from the subscription
// status: only an active subscription has an unlocked device.
func deviceLockState(s domain.Status) domain.LockState {
	if s == domain.StatusActive {
		return domain.LockStateUnlocked
	}
	return domain.LockStateLocked
}

// executeStep drives one downstream call through the retry loop. A timed-out
// call is a failure like any other: the step is never left Succeeded-unknown.
func (o *Orchestrator) executeStep(ctx context.Context, wf domain.WorkflowRequest, step *domain.SagaStep, deviceState domain.LockState) error {
	req := o.stepRequest(wf, *step, deviceState)

	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		step.Status = domain.StepInFlight
		step.AttemptCount = attempt
		if err := o.workflows.UpdateStep(ctx, *step); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, o.policy.StepTimeout)
		resp, err := o.dispatcher.Execute(callCtx, step.TargetSystem, req)
		cancel()

		if err == nil && !resp.Success {
			err = &domain.ExternalSystemError{Target: step.TargetSystem, ErrorCode: resp.ErrorCode}
		}
		if err == nil {
			step.Status = domain.StepSucceeded
			step.ExternalRef = resp.ExternalRef
			step.LastError = ""
			return o.workflows.UpdateStep(ctx, *step)
		}

		step.LastError = err.Error()
		o.log.WarnContext(ctx, "saga step attempt failed",
			"workflow_id", wf.ID,
			"step", step.SequenceIndex,
			"target", step.TargetSystem,
			"attempt", attempt,
			"error", err,
		)

		if attempt < o.policy.MaxAttempts {
			if err := o.sleep(ctx, backoffDelay(attempt, o.policy)); err != nil {
				break
			}
		}
	}

	step.Status = domain.StepFailed
	if err := o.workflows.UpdateStep(ctx, *step); err != nil {
		return err
	}
	return &domain.TerminalWorkflowError{
		WorkflowID: wf.ID,
		StepIndex:  step.SequenceIndex,
		Err:        errors.New(step.LastError),
	}
}

// rollback compensates every previously succeeded step in reverse order.
// The subscription status is left untouched: it only ever changes at full
// saga commit. A compensation that cannot complete routes the workflow to
// manual review instead of retrying forever.
func (o *Orchestrator) rollback(ctx context.Context, wf domain.WorkflowRequest, failedIndex int, deviceState domain.LockState, cause *domain.TerminalWorkflowError) error {
	for i := failedIndex - 1; i >= 0; i-- {
		step := &wf.Steps[i]
		if step.Status != domain.StepSucceeded {
			continue
		}
		if err := o.compensateStep(ctx, wf, step, deviceState); err != nil {
			step.Status = domain.StepCompensationFailed
			step.LastError = err.Error()
			if uerr := o.workflows.UpdateStep(ctx, *step); uerr != nil {
				return uerr
			}
			return o.finishWorkflow(ctx, wf, domain.WorkflowManualReview, domain.CodeTerminalWorkflow,
				fmt.Sprintf("compensation of step %d failed: %v", step.SequenceIndex, err),
				domain.AuditWorkflowManualReview)
		}
		step.Status = domain.StepCompensated
		if err := o.workflows.UpdateStep(ctx, *step); err != nil {
			return err
		}
	}

	return o.failWorkflow(ctx, wf, domain.CodeTerminalWorkflow, cause.Error())
}

// compensateStep retries the compensating call under the same bounded policy
// as forward execution.
func (o *Orchestrator) compensateStep(ctx context.Context, wf domain.WorkflowRequest, step *domain.SagaStep, deviceState domain.LockState) error {
	req := o.stepRequest(wf, *step, deviceState)

	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.policy.StepTimeout)
		resp, err := o.dispatcher.Compensate(callCtx, step.TargetSystem, req)
		cancel()

		if err == nil && !resp.Success {
			err = &domain.ExternalSystemError{Target: step.TargetSystem, ErrorCode: resp.ErrorCode}
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < o.policy.MaxAttempts {
			if err := o.sleep(ctx, backoffDelay(attempt, o.policy)); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

// commit applies the terminal effects of a fully succeeded saga: the status
// transition, plan bookkeeping, wallet mutations for the financial types, and
// the workflow's completed status, all in one atomic write. Nothing lands
// partially: a version conflict on any row rolls everything back and routes
// the workflow to manual review, and a crash before the write leaves the
// saga resumable with every effect still pending.
func (o *Orchestrator) commit(ctx context.Context, wf domain.WorkflowRequest, sub domain.Subscription, event domain.Event, isLifecycle bool, reconnectPlan domain.Plan) error {
	now := o.now()

	var effects []domain.Subscription

	if isLifecycle {
		newStatus, err := o.validator.Apply(ctx, sub.Status, event)
		if err != nil {
			// The subscription moved while the saga ran. Downstream effects
			// have already landed, so this needs an operator, not a retry.
			return o.finishWorkflow(ctx, wf, domain.WorkflowManualReview, domain.CodeStateConflict,
				err.Error(), domain.AuditWorkflowManualReview)
		}

		previous := sub.Status
		sub.Status = newStatus

		switch wf.Type {
		case domain.TypeSuspension:
			suspendedAt := now
			sub.SuspendedAt = &suspendedAt
		case domain.TypeReconnection:
			sub.PlanEndDate = sub.PlanEndDate.AddDate(0, 0, sub.SuspensionDays(now))
			sub.SuspendedAt = nil
		case domain.TypeAutoReconnection:
			sub.PlanID = reconnectPlan.ID
			sub.PlanFamily = reconnectPlan.Family
			sub.PlanStartDate = now
			sub.PlanEndDate = now.AddDate(0, 0, reconnectPlan.ValidityDays)
			sub.NoEligiblePlan = false
			sub.SuspendedAt = nil
		}
		sub.UpdatedAt = now
		effects = append(effects, sub)

		o.log.InfoContext(ctx, "committing subscription transition",
			"subscription_id", sub.ID,
			"from", previous,
			"to", sub.Status,
			"workflow_id", wf.ID,
		)
	}

	walletRows, err := o.walletEffects(ctx, wf, now)
	if err != nil {
		return err
	}
	effects = append(effects, walletRows...)

	wf.Status = domain.WorkflowCompleted
	wf.FailureCode = ""
	wf.UpdatedAt = now
	if err := o.workflows.CommitOutcome(ctx, wf, effects); err != nil {
		var conflict *domain.StateConflictError
		if errors.As(err, &conflict) {
			return o.finishWorkflow(ctx, wf, domain.WorkflowManualReview, domain.CodeStateConflict,
				conflict.Error(), domain.AuditWorkflowManualReview)
		}
		return err
	}

	return o.audit(ctx, wf, domain.AuditWorkflowCompleted)
}

// walletEffects computes the wallet balance changes of the financial workflow
// types as mutated subscription rows. Nothing is persisted here: the rows go
// into the atomic outcome write, so a transfer debits and credits in the same
// transaction or not at all.
func (o *Orchestrator) walletEffects(ctx context.Context, wf domain.WorkflowRequest, now time.Time) ([]domain.Subscription, error) {
	switch wf.Type {
	case domain.TypeAdjustment:
		sub, err := o.subs.GetByID(ctx, wf.SubjectID)
		if err != nil {
			return nil, err
		}
		sub.WalletBalance = sub.WalletBalance.Add(wf.Params.Amount)
		sub.UpdatedAt = now
		return []domain.Subscription{sub}, nil

	case domain.TypeTransfer:
		src, err := o.subs.GetByID(ctx, wf.SubjectID)
		if err != nil {
			return nil, err
		}
		src.WalletBalance = src.WalletBalance.Sub(wf.Params.Amount)
		src.UpdatedAt = now

		dst, err := o.subs.GetByID(ctx, wf.Params.TargetID)
		if err != nil {
			return nil, err
		}
		dst.WalletBalance = dst.WalletBalance.Add(wf.Params.Amount)
		dst.UpdatedAt = now
		return []domain.Subscription{src, dst}, nil
	}
	return nil, nil
}

// flagNoEligiblePlan marks the subscription for manual handling when the
// matching cascade produced no candidate, and fails the workflow without
// touching any downstream system.
func (o *Orchestrator) flagNoEligiblePlan(ctx context.Context, wf domain.WorkflowRequest, sub domain.Subscription) error {
	sub.NoEligiblePlan = true
	sub.UpdatedAt = o.now()
	if err := o.subs.Update(ctx, sub); err != nil {
		return err
	}

	auditID, err := generateID()
	if err != nil {
		return fmt.Errorf("generating audit id: %w", err)
	}
	event := domain.NewAuditEvent(auditID, "subscription", sub.ID, domain.AuditNoEligiblePlan, "system", map[string]any{
		"workflowId":    wf.ID,
		"walletBalance": sub.WalletBalance,
	})
	if err := o.ledger.Record(ctx, event); err != nil {
		return fmt.Errorf("recording no-eligible-plan event: %w", err)
	}

	return o.failWorkflow(ctx, wf, domain.CodeNoEligiblePlan, "no plan matches wallet balance or payment history")
}

func (o *Orchestrator) failWorkflow(ctx context.Context, wf domain.WorkflowRequest, code, detail string) error {
	return o.finishWorkflow(ctx, wf, domain.WorkflowFailed, code, detail, domain.AuditWorkflowFailed)
}

// finishWorkflow persists a terminal workflow status and writes the matching
// audit event. Business failures end here with a nil return: the failure is
// durable state, not an error for the task pool to retry.
func (o *Orchestrator) finishWorkflow(ctx context.Context, wf domain.WorkflowRequest, status domain.WorkflowStatus, code, detail, auditType string) error {
	wf.Status = status
	wf.FailureCode = code
	wf.Reason = detail
	wf.UpdatedAt = o.now()
	if err := o.workflows.Update(ctx, wf); err != nil {
		return err
	}

	o.log.WarnContext(ctx, "workflow finished without completing",
		"workflow_id", wf.ID,
		"status", status,
		"code", code,
		"detail", detail,
	)

	return o.audit(ctx, wf, auditType)
}

func (o *Orchestrator) audit(ctx context.Context, wf domain.WorkflowRequest, eventType string) error {
	id, err := generateID()
	if err != nil {
		return fmt.Errorf("generating audit id: %w", err)
	}
	event := domain.NewAuditEvent(id, "workflow_request", wf.ID, eventType, "system", map[string]any{
		"type":        wf.Type,
		"subjectId":   wf.SubjectID,
		"status":      wf.Status,
		"failureCode": wf.FailureCode,
		"progress":    wf.Progress(),
	})
	if err := o.ledger.Record(ctx, event); err != nil {
		return fmt.Errorf("recording %s: %w", eventType, err)
	}
	return nil
}

func (o *Orchestrator) stepRequest(wf domain.WorkflowRequest, step domain.SagaStep, deviceState domain.LockState) domain.StepRequest {
	payload := map[string]any{
		"subjectId": wf.SubjectID,
		"type":      string(wf.Type),
	}
	if !wf.Params.Amount.IsZero() {
		payload["amount"] = wf.Params.Amount.String()
	}
	if wf.Params.TargetID != "" {
		payload["targetId"] = wf.Params.TargetID
	}
	if step.TargetSystem == domain.TargetProvisioning && deviceState != "" {
		payload["deviceState"] = string(deviceState)
	}
	return domain.StepRequest{
		WorkflowID:     wf.ID,
		StepIndex:      step.SequenceIndex,
		Action:         step.Action,
		IdempotencyKey: step.IdempotencyKey(),
		Payload:        payload,
	}
}
